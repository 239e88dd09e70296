// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

//go:build integration

package cache_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/resourcecache/resourcecache/pkg/cache"
	"github.com/resourcecache/resourcecache/pkg/pageable"
	"github.com/resourcecache/resourcecache/pkg/resource"
	"github.com/resourcecache/resourcecache/pkg/storage"
)

var _ = Describe("Persistent resource family", func() {
	var (
		ctx     context.Context
		dir     string
		fetches atomic.Int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		fetches.Store(0)
		storage.Configure(storage.Config{PersistentFactory: storage.FileFactory(dir)})
	})

	AfterEach(func() {
		storage.ResetConfig()
	})

	newFamily := func() *cache.Coordinator[string, string] {
		coord, err := cache.NewPersistent[string, string]("greetings",
			func(_ context.Context, key string) (string, error) {
				fetches.Add(1)
				return "hello " + key, nil
			},
			cache.WithCacheDuration[string, string](time.Hour),
		)
		Expect(err).NotTo(HaveOccurred())
		return coord
	}

	It("fetches once and serves from disk across restarts", func() {
		coord := newFamily()

		r, err := coord.Get(ctx, "world", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IsSuccess()).To(BeTrue())
		Expect(*r.Data).To(Equal("hello world"))
		Expect(fetches.Load()).To(Equal(int32(1)))

		restarted := newFamily()
		r, err = restarted.Get(ctx, "world", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(*r.Data).To(Equal("hello world"))
		Expect(fetches.Load()).To(Equal(int32(1)), "the persisted value serves the restarted family")
	})

	It("invalidation survives a restart", func() {
		coord := newFamily()

		_, err := coord.Get(ctx, "world", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(coord.Invalidate(ctx, "world", cache.InvalidateOptions{})).To(Succeed())

		restarted := newFamily()
		r, err := restarted.Get(ctx, "world", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(*r.Data).To(Equal("hello world"))
		Expect(fetches.Load()).To(Equal(int32(2)), "an invalidated entry is refetched after restart")
	})

	It("streams updates to concurrent subscribers", func() {
		coord := newFamily()

		sub1, err := coord.Subscribe(ctx, "world", false)
		Expect(err).NotTo(HaveOccurred())
		defer sub1.Cancel()
		sub2, err := coord.Subscribe(ctx, "world", false)
		Expect(err).NotTo(HaveOccurred())
		defer sub2.Cancel()

		for _, sub := range []*cache.Subscription[string]{sub1, sub2} {
			Eventually(sub.Events()).Should(Receive(WithTransform(
				func(r resource.Resource[string]) bool { return r.IsSuccess() },
				BeTrue(),
			)))
		}
		Expect(fetches.Load()).To(Equal(int32(1)))

		Expect(coord.Put(ctx, "world", "howdy world")).To(Succeed())
		for _, sub := range []*cache.Subscription[string]{sub1, sub2} {
			Eventually(sub.Events()).Should(Receive())
		}
	})
})

var _ = Describe("Offset pagination over persistent storage", func() {
	var (
		ctx    context.Context
		origin []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		origin = []string{"a", "b", "c", "d", "e"}
	})

	newPager := func(dir string) *pageable.OffsetCoordinator[string, string] {
		backend, err := storage.NewFile(dir, "list")
		Expect(err).NotTo(HaveOccurred())

		pager, err := pageable.NewOffset[string, string]("list",
			func(_ context.Context, _ string, offset, limit int) ([]string, error) {
				if offset >= len(origin) {
					return nil, nil
				}
				end := min(offset+limit, len(origin))
				return origin[offset:end], nil
			},
			3, 1,
			pageable.WithOffsetCacheOptions[string, string](
				cache.WithStorage[string, pageable.OffsetBundle[string]](
					storage.NewJSON[string, pageable.OffsetBundle[string]]("list", backend),
				),
			),
		)
		Expect(err).NotTo(HaveOccurred())
		return pager
	}

	It("accumulates pages on disk and reuses them after a refresh", func() {
		dir := GinkgoT().TempDir()
		pager := newPager(dir)

		_, err := pager.Get(ctx, "k", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(pager.LoadNextPage(ctx, "k")).To(Succeed())
		Expect(pager.LoadNextPage(ctx, "k")).To(Succeed())

		bundle, err := pager.CachedBundle(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(bundle.Items).To(Equal(origin))
		Expect(bundle.LoadedAll).To(BeTrue())

		// A fresh pager over the same directory sees the whole bundle,
		// and an unchanged first page preserves it across invalidation.
		reopened := newPager(dir)
		Expect(reopened.Invalidate(ctx, "k", cache.InvalidateOptions{})).To(Succeed())

		r, err := reopened.Get(ctx, "k", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Data.Items).To(Equal(origin))
		Expect(r.Data.LoadedAll).To(BeTrue())
	})

	It("recovers from an origin change via invalidate", func() {
		dir := GinkgoT().TempDir()
		pager := newPager(dir)

		_, err := pager.Get(ctx, "k", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())

		// The origin reorders under the loaded window.
		origin = []string{"a", "b", "x", "c", "d"}

		err = pager.LoadNextPage(ctx, "k")
		Expect(pageable.IsInconsistentPageData(err)).To(BeTrue())

		Expect(pager.Invalidate(ctx, "k", cache.InvalidateOptions{})).To(Succeed())
		r, err := pager.Get(ctx, "k", cache.GetOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Data.Items).To(Equal([]string{"a", "b", "x"}))

		Expect(pager.LoadNextPage(ctx, "k")).To(Succeed())
		bundle, err := pager.CachedBundle(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(bundle.Items).To(Equal(origin))
	})
})

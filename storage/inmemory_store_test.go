package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/arcade/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})
	})

	Describe("Put() / Get()", func() {
		It("can read a key that is written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			err := store.Put(context.Background(), "foo", []byte("bar"))
			Expect(err).To(Succeed())

			Expect(store.Get(context.Background(), "foo")).To(Equal([]byte("bar")))
		})

		It("reports a missing key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			_, err := store.Get(context.Background(), "nope")
			Expect(err).To(MatchError(storage.ErrKeyNotFound))
		})

		It("does not alias the caller's buffers", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			value := []byte("bar")
			Expect(store.Put(context.Background(), "foo", value)).To(Succeed())
			value[0] = 'X'

			got, err := store.Get(context.Background(), "foo")
			Expect(err).To(Succeed())
			Expect(got).To(Equal([]byte("bar")))

			got[0] = 'Y'
			Expect(store.Get(context.Background(), "foo")).To(Equal([]byte("bar")))
		})
	})

	Describe("Delete()", func() {
		It("removes a written key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Put(context.Background(), "foo", []byte("bar"))).To(Succeed())
			Expect(store.Delete(context.Background(), "foo")).To(Succeed())

			_, err := store.Get(context.Background(), "foo")
			Expect(err).To(MatchError(storage.ErrKeyNotFound))
		})

		It("reports deleting a missing key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			err := store.Delete(context.Background(), "nope")
			Expect(err).To(MatchError(storage.ErrKeyNotFound))
		})
	})

	Describe("Entries()", func() {
		It("snapshots all entries sorted by key", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Put(context.Background(), "b", []byte("2"))).To(Succeed())
			Expect(store.Put(context.Background(), "a", []byte("1"))).To(Succeed())
			Expect(store.Put(context.Background(), "c", []byte("3"))).To(Succeed())

			entries, err := store.Entries(context.Background())
			Expect(err).To(Succeed())
			Expect(entries).To(Equal([]storage.Entry{
				{Key: "a", Value: []byte("1")},
				{Key: "b", Value: []byte("2")},
				{Key: "c", Value: []byte("3")},
			}))
		})
	})
})

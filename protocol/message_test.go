package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/luma/arcade/protocol"
)

var _ = Describe("protocol / Message", func() {
	Describe("With()", func() {
		It("keeps fields in insertion order", func() {
			msg := protocol.New("order.test").
				With("first", "a").
				With("second", "b").
				With("third", "c")

			fields := msg.Fields()
			Expect(fields).To(HaveLen(4))
			Expect(fields[0].Key).To(Equal("id"))
			Expect(fields[1].Key).To(Equal("first"))
			Expect(fields[2].Key).To(Equal("second"))
			Expect(fields[3].Key).To(Equal("third"))
		})

		It("replaces an existing key in place instead of appending", func() {
			msg := protocol.New("order.test").
				With("first", "a").
				With("second", "b").
				With("first", "z")

			fields := msg.Fields()
			Expect(fields).To(HaveLen(3))
			Expect(fields[1].Key).To(Equal("first"))
			Expect(fields[1].Value).To(Equal("z"))
		})
	})

	Describe("Encode() / Decode()", func() {
		It("round trips scalar fields", func() {
			msg := protocol.New("login.req").
				With("uid", "alice").
				With("count", int64(42)).
				With("active", true)

			data, err := msg.Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())

			Expect(decoded.ID()).To(Equal("login.req"))
			Expect(decoded.String("uid")).To(Equal("alice"))
			Expect(decoded.Int("count")).To(Equal(int64(42)))
			Expect(decoded.Bool("active")).To(BeTrue())
		})

		It("round trips decimals through their string form", func() {
			price := decimal.RequireFromString("12.5")
			msg := protocol.New("shop.buy.req").With("price", price)

			data, err := msg.Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())
			Expect(decoded.Decimal("price").Equal(price)).To(BeTrue())
		})

		It("round trips byte blobs", func() {
			blob := []byte{0xde, 0xad, 0xbe, 0xef}
			msg := protocol.New("blob.test").With("data", blob)

			data, err := msg.Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())
			Expect(decoded.Bytes("data")).To(Equal(blob))
		})

		It("round trips nested maps preserving their order", func() {
			nested := protocol.NewMap().
				With("balance", "100").
				With("nonce", int64(7))

			msg := protocol.New("info.res").With("account", nested)

			data, err := msg.Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())

			account := decoded.Map("account")
			Expect(account).NotTo(BeNil())
			Expect(account.Fields()[0].Key).To(Equal("balance"))
			Expect(account.Fields()[1].Key).To(Equal("nonce"))
			Expect(account.Int("nonce")).To(Equal(int64(7)))
		})

		It("round trips lists of nested maps", func() {
			msg := protocol.New("market.list.res").
				With("orders", []interface{}{
					protocol.NewMap().With("order", "o1"),
					protocol.NewMap().With("order", "o2"),
				})

			data, err := msg.Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())

			orders := decoded.List("orders")
			Expect(orders).To(HaveLen(2))

			first, ok := orders[0].(*protocol.Message)
			Expect(ok).To(BeTrue())
			Expect(first.String("order")).To(Equal("o1"))
		})

		It("rejects bytes that are not an envelope", func() {
			_, err := protocol.Decode([]byte{0x01, 0x02, 0x03})
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("rejects an envelope without the mandatory id", func() {
			data, err := protocol.NewMap().With("value", "x").Encode()
			Expect(err).To(Succeed())

			_, err = protocol.Decode(data)
			Expect(err).To(MatchError(protocol.ErrMissingMessageID))
		})

		It("accepts a mixed-case id key", func() {
			data, err := protocol.NewMap().With("Id", "ping").Encode()
			Expect(err).To(Succeed())

			decoded, err := protocol.Decode(data)
			Expect(err).To(Succeed())
			Expect(decoded.ID()).To(Equal("ping"))
		})
	})

	Describe("Text() / ParseText()", func() {
		It("renders fields as JSON in order", func() {
			msg := protocol.New("ping").
				With("utc", int64(1700000000)).
				With("note", "hello")

			Expect(msg.Text()).To(Equal(`{"id":"ping","utc":1700000000,"note":"hello"}`))
		})

		It("renders decimals as raw numbers and blobs as hex", func() {
			msg := protocol.New("mixed").
				With("price", decimal.RequireFromString("0.05")).
				With("data", []byte{0xab, 0xcd})

			Expect(msg.Text()).To(Equal(`{"id":"mixed","price":0.05,"data":"0xabcd"}`))
		})

		It("round trips through the text form", func() {
			msg := protocol.New("info.res").
				With("scode", "s-1").
				With("account", protocol.NewMap().
					With("balance", decimal.RequireFromString("3.25")).
					With("nonce", int64(9)))

			parsed, err := protocol.ParseText(msg.Text())
			Expect(err).To(Succeed())

			Expect(parsed.ID()).To(Equal("info.res"))
			Expect(parsed.String("scode")).To(Equal("s-1"))

			account := parsed.Map("account")
			Expect(account).NotTo(BeNil())
			Expect(account.Decimal("balance").Equal(decimal.RequireFromString("3.25"))).To(BeTrue())
			Expect(account.Int("nonce")).To(Equal(int64(9)))
		})

		It("rejects text that is not a JSON object", func() {
			_, err := protocol.ParseText(`[1,2,3]`)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))

			_, err = protocol.ParseText(`{"broken":`)
			Expect(err).To(MatchError(protocol.ErrMalformedMessage))
		})

		It("rejects text without the mandatory id", func() {
			_, err := protocol.ParseText(`{"value":"x"}`)
			Expect(err).To(MatchError(protocol.ErrMissingMessageID))
		})
	})
})

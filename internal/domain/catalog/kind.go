// Package catalog defines the entity kinds exchanged between the ERP and the
// storefront, and the snapshot types the reconciliation engine consumes.
package catalog

import (
	"fmt"
	"strings"

	"storesync/internal/core/apperror"
)

// Kind identifies a catalog entity kind. The ledger stores one record shape
// for all kinds; Kind is the discriminator.
type Kind string

const (
	KindProduct        Kind = "product"
	KindCategory       Kind = "category"
	KindTag            Kind = "tag"
	KindAttribute      Kind = "attribute"
	KindAttributeValue Kind = "attribute_value"
	KindPriceList      Kind = "price_list"
)

// Kinds lists all supported entity kinds in sync order: taxonomy and
// attributes must exist on the storefront before the products referencing them.
func Kinds() []Kind {
	return []Kind{
		KindCategory,
		KindTag,
		KindAttribute,
		KindAttributeValue,
		KindPriceList,
		KindProduct,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindCategory, KindTag, KindAttribute, KindAttributeValue, KindPriceList:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind converts a string to a Kind with validation.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", apperror.NewValidation("unknown entity kind").
			WithDetail("kind", s)
	}
	return k, nil
}

// ClaimsStoreID reports whether the ledger enforces storefront-id uniqueness
// for this kind. Products and categories have the concurrent-claim history;
// the other kinds are namespaced by their owner on the storefront side.
func (k Kind) ClaimsStoreID() bool {
	return k == KindProduct || k == KindCategory
}

// Verb is the change verb carried in a webhook topic.
type Verb string

const (
	VerbCreated  Verb = "created"
	VerbUpdated  Verb = "updated"
	VerbDeleted  Verb = "deleted"
	VerbRestored Verb = "restored"
)

// Valid reports whether v is a known verb.
func (v Verb) Valid() bool {
	switch v {
	case VerbCreated, VerbUpdated, VerbDeleted, VerbRestored:
		return true
	}
	return false
}

// ParseTopic splits a namespaced webhook topic ("product.updated") into its
// entity kind and verb.
func ParseTopic(topic string) (Kind, Verb, error) {
	parts := strings.SplitN(topic, ".", 2)
	if len(parts) != 2 {
		return "", "", apperror.NewValidation(fmt.Sprintf("malformed topic %q", topic)).
			WithDetail("topic", topic)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return "", "", err
	}

	verb := Verb(parts[1])
	if !verb.Valid() {
		return "", "", apperror.NewValidation(fmt.Sprintf("unknown topic verb %q", parts[1])).
			WithDetail("topic", topic)
	}

	return kind, verb, nil
}

package enums

import "fmt"

// ItemKind distinguishes physical products from bookable services in the catalog.
type ItemKind string

const (
	ItemKindProduct ItemKind = "product"
	ItemKindService ItemKind = "service"
)

func (k ItemKind) IsValid() bool {
	return k == ItemKindProduct || k == ItemKindService
}

func ParseItemKind(value string) (ItemKind, error) {
	kind := ItemKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid item kind %q", value)
	}
	return kind, nil
}

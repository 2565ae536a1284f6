package segment

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// EnumBitmap is the .ebm zone index (spec §4.C.g): for each enum
// variant, a bitset over the zone ids where that variant appears.
// Grounded on github.com/RoaringBitmap/roaring, the pack's roaring
// bitmap library (confirmed via weaviate's roaringset wrapper in
// other_examples/).
type EnumBitmap struct {
	variants map[string]*roaring.Bitmap
	order    []string
}

// BuildEnumBitmap scans each zone's distinct variant values (zoneValues
// indexed by zone id) and sets one bit per (variant, zone) pair.
func BuildEnumBitmap(variants []string, zoneValues [][]string) *EnumBitmap {
	eb := &EnumBitmap{
		variants: make(map[string]*roaring.Bitmap, len(variants)),
		order:    append([]string(nil), variants...),
	}
	for _, v := range variants {
		eb.variants[v] = roaring.New()
	}
	for zoneID, vals := range zoneValues {
		for _, v := range vals {
			if bm, ok := eb.variants[v]; ok {
				bm.Add(uint32(zoneID))
			}
		}
	}
	return eb
}

// ZonesWithVariant returns the sorted zone ids where variant appears.
// An unknown variant (spec §8: "Enum equality with unknown variant
// returns empty zone set") returns nil.
func (eb *EnumBitmap) ZonesWithVariant(variant string) []int {
	bm, ok := eb.variants[variant]
	if !ok {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Marshal serializes the bitmap set as a sequence of
// (variant length-prefixed string, bitmap length-prefixed bytes).
func (eb *EnumBitmap) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range eb.order {
		writeLPString(&buf, v)
		bmBytes, err := eb.variants[v].ToBytes()
		if err != nil {
			return nil, fmt.Errorf("segment: marshal enum bitmap %q: %w", v, err)
		}
		writeLPBytes(&buf, bmBytes)
	}
	return buf.Bytes(), nil
}

// UnmarshalEnumBitmap is the inverse of Marshal.
func UnmarshalEnumBitmap(b []byte) (*EnumBitmap, error) {
	eb := &EnumBitmap{variants: make(map[string]*roaring.Bitmap)}
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		variant, err := readLPString(r)
		if err != nil {
			return nil, fmt.Errorf("segment: unmarshal enum bitmap variant: %w", err)
		}
		bmBytes, err := readLPBytes(r)
		if err != nil {
			return nil, fmt.Errorf("segment: unmarshal enum bitmap bytes: %w", err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(bmBytes); err != nil {
			return nil, fmt.Errorf("segment: decode roaring bitmap: %w", err)
		}
		eb.variants[variant] = bm
		eb.order = append(eb.order, variant)
	}
	return eb, nil
}

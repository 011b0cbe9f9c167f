package codes

import "errors"

// Category is the two-digit product family code embedded in batch and
// serial identifiers. The set is closed; anything outside it never
// parses or validates.
type Category string

const (
	// CategorySeed marks seed lots.
	CategorySeed Category = "10"
	// CategoryClone marks clones and cuttings.
	CategoryClone Category = "11"
	// CategoryVegetative marks vegetative plants.
	CategoryVegetative Category = "20"
	// CategoryFlowering marks flowering plants.
	CategoryFlowering Category = "21"
	// CategoryWetHarvest marks wet harvest lots.
	CategoryWetHarvest Category = "30"
	// CategoryDriedFlower marks dried flower lots.
	CategoryDriedFlower Category = "31"
	// CategoryTrim marks trim and shake.
	CategoryTrim Category = "40"
	// CategoryExtract marks extracts and concentrates.
	CategoryExtract Category = "50"
	// CategoryInfused marks infused products.
	CategoryInfused Category = "60"
	// CategoryPackaged marks packaged retail goods.
	CategoryPackaged Category = "70"
)

var categoryLabels = map[Category]string{
	CategorySeed:        "Seed",
	CategoryClone:       "Clone",
	CategoryVegetative:  "Vegetative Plant",
	CategoryFlowering:   "Flowering Plant",
	CategoryWetHarvest:  "Wet Harvest",
	CategoryDriedFlower: "Dried Flower",
	CategoryTrim:        "Trim",
	CategoryExtract:     "Extract",
	CategoryInfused:     "Infused Product",
	CategoryPackaged:    "Packaged Good",
}

// Valid reports whether the category is part of the closed set.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label returns the human readable category name.
func (c Category) Label() string {
	return categoryLabels[c]
}

// ParseCategory converts a two-digit code into a Category.
func ParseCategory(code string) (Category, error) {
	c := Category(code)
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// ErrInvalidSite indicates a site outside the 1-99 range.
var ErrInvalidSite = errors.New("codes: site must be between 1 and 99")

// ErrInvalidCategory indicates a category code outside the known set.
var ErrInvalidCategory = errors.New("codes: category code not recognised")

// ErrInvalidFormat indicates an identifier failing length, charset or
// field range checks. Decoders never return partial data alongside it.
var ErrInvalidFormat = errors.New("codes: invalid format")

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package catalog

import "github.com/MrWong99/cashierchat/pkg/types"

// shelves lists the storefront stock, left shelf to right, bottom row first.
var shelves = [][]string{
	{"Lechuga", "Tomate", "Lechuga", "Tomate", "Lechuga", "Tomate"},
	{"Papas Lays", "Papas Lays", "Papas Lays", "Papas Lays", "Papas Lays", "Papas Lays"},
	{"Tomate", "Lechuga", "Papas Lays", "Tomate", "Lechuga", "Papas Lays"},
}

// Seed returns the raw entries of the default storefront, one per shelf slot.
// prices maps a raw label to its price; labels without a price get 0.
func Seed(prices map[string]float64) []types.ProductEntry {
	var out []types.ProductEntry
	for _, shelf := range shelves {
		for _, name := range shelf {
			out = append(out, types.ProductEntry{Name: name, Price: prices[name]})
		}
	}
	return out
}

// Package i18n holds the storefront locale tables served to clients.
package i18n

import "sort"

const defaultLocale = "en"

var tables = map[string]map[string]string{
	"en": {
		"storefront.title":     "Verano Shop",
		"catalog.empty":        "No products found",
		"catalog.out_of_stock": "Out of stock",
		"cart.empty":           "Your cart is empty",
		"cart.checkout":        "Checkout",
		"checkout.placed":      "Order placed",
		"admin.denied":         "You do not have access to this area",
		"admin.retry":          "Try again",
		"admin.sign_out":       "Sign out",
	},
	"es": {
		"storefront.title":     "Tienda Verano",
		"catalog.empty":        "No se encontraron productos",
		"catalog.out_of_stock": "Agotado",
		"cart.empty":           "Tu carrito está vacío",
		"cart.checkout":        "Pagar",
		"checkout.placed":      "Pedido realizado",
		"admin.denied":         "No tienes acceso a esta área",
		"admin.retry":          "Intentar de nuevo",
		"admin.sign_out":       "Cerrar sesión",
	},
	"de": {
		"storefront.title":     "Verano Shop",
		"catalog.empty":        "Keine Produkte gefunden",
		"catalog.out_of_stock": "Ausverkauft",
		"cart.empty":           "Ihr Warenkorb ist leer",
		"cart.checkout":        "Zur Kasse",
		"checkout.placed":      "Bestellung aufgegeben",
		"admin.denied":         "Sie haben keinen Zugriff auf diesen Bereich",
		"admin.retry":          "Erneut versuchen",
		"admin.sign_out":       "Abmelden",
	},
}

// Locales returns the supported locale codes, sorted.
func Locales() []string {
	out := make([]string, 0, len(tables))
	for code := range tables {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether the locale has a table.
func Supported(locale string) bool {
	_, ok := tables[locale]
	return ok
}

// T resolves a key in the given locale, falling back to English and
// finally to the key itself so missing entries stay visible.
func T(locale, key string) string {
	if tab, ok := tables[locale]; ok {
		if v, ok := tab[key]; ok {
			return v
		}
	}
	if v, ok := tables[defaultLocale][key]; ok {
		return v
	}
	return key
}

// Table returns a copy of the full table for a locale, defaulting to English.
func Table(locale string) map[string]string {
	tab, ok := tables[locale]
	if !ok {
		tab = tables[defaultLocale]
	}
	out := make(map[string]string, len(tab))
	for k, v := range tab {
		out[k] = v
	}
	return out
}

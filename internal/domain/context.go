package domain

import "time"

type Route string

const (
	RouteHome     Route = "/"
	RouteProducts Route = "/products"
	RouteCart     Route = "/cart"
	RouteOrders   Route = "/orders"
	RouteProfile  Route = "/profile"
	RouteSell     Route = "/sell"
)

type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

type CatalogSummary struct {
	Total      int      `json:"total"`
	Organic    int      `json:"organic"`
	Categories []string `json:"categories,omitempty"`
}

type OrderCounts struct {
	Pending   int `json:"pending"`
	Shipped   int `json:"shipped"`
	Delivered int `json:"delivered"`
}

// AppState is what the application state provider reports.
type AppState struct {
	Route    Route          `json:"route"`
	CartSize int            `json:"cartSize"`
	Catalog  CatalogSummary `json:"catalog"`
	Orders   OrderCounts    `json:"orders"`
}

// ContextSnapshot is derived fresh from AppState on every request and never persisted.
type ContextSnapshot struct {
	Route     Route
	CartSize  int
	Catalog   CatalogSummary
	Orders    OrderCounts
	TimeOfDay TimeOfDay
}

func KnownRoute(r Route) bool {
	switch r {
	case RouteHome, RouteProducts, RouteCart, RouteOrders, RouteProfile, RouteSell:
		return true
	}
	return false
}

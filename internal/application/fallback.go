package application

import (
	"fmt"
	"time"

	"tomme-assistant/internal/domain"
)

type responder func(s domain.ContextSnapshot) string

type fallbackRule struct {
	id        string
	match     matcher
	responses []responder
	route     domain.Route
	followUp  domain.PendingActionType
	followTo  domain.Route
	end       bool
}

func say(text string) responder {
	return func(domain.ContextSnapshot) string { return text }
}

var showVerbs = anyOf("show", "see", "browse", "list", "find", "display", "open", "view", "look")

var fallbackRules = []fallbackRule{
	{
		id:    "farewell",
		match: anyOf("goodbye", "bye", "stop listening", "that s all", "that is all", "see you", "good night"),
		end:   true,
		responses: []responder{
			say("Goodbye! Say my name whenever you need me."),
			say("Talk soon. I'll be listening for my name."),
		},
	},
	{
		id:    "help",
		match: anyOf("help", "what can you do", "how does this work"),
		responses: []responder{
			say("I can show products, open your cart, track orders, or take you to your profile. Just ask."),
			say("Try saying show products, open my cart, or where is my order."),
		},
	},
	{
		id:    "cart",
		match: anyOf("cart", "basket", "checkout", "check out"),
		route: domain.RouteCart,
		responses: []responder{
			func(s domain.ContextSnapshot) string {
				if s.CartSize == 0 {
					return "Your cart is empty right now. Opening it for you."
				}
				return fmt.Sprintf("You have %d %s in your cart. Opening it now.", s.CartSize, plural(s.CartSize, "item", "items"))
			},
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("Here's your cart with %d %s.", s.CartSize, plural(s.CartSize, "item", "items"))
			},
		},
	},
	{
		id:    "orders",
		match: anyOf("order*", "deliver*", "track*", "shipping", "shipment*"),
		route: domain.RouteOrders,
		responses: []responder{
			func(s domain.ContextSnapshot) string {
				if s.Orders.Pending == 0 {
					return "You have no pending orders. Here is your order history."
				}
				return fmt.Sprintf("You have %d pending %s. Opening your orders.", s.Orders.Pending, plural(s.Orders.Pending, "order", "orders"))
			},
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("Here are your orders: %d pending and %d delivered.", s.Orders.Pending, s.Orders.Delivered)
			},
		},
	},
	{
		id:    "organic",
		match: anyOf("organic*"),
		route: domain.RouteProducts,
		responses: []responder{
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("We have %d organic %s right now. Showing the catalog.", s.Catalog.Organic, plural(s.Catalog.Organic, "product", "products"))
			},
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("%d of our %d products are organic. Take a look.", s.Catalog.Organic, s.Catalog.Total)
			},
		},
	},
	{
		id:    "products",
		match: oneOf(allOf(showVerbs, anyOf("product*", "item*", "produce", "catalog*")), anyOf("catalog*")),
		route: domain.RouteProducts,
		responses: []responder{
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("Here are our products. There are %d in the catalog right now.", s.Catalog.Total)
			},
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("Opening the catalog with %d %s.", s.Catalog.Total, plural(s.Catalog.Total, "product", "products"))
			},
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("We have %d products for you. Let's browse.", s.Catalog.Total)
			},
		},
	},
	{
		id:       "price",
		match:    anyOf("price*", "cost*", "cheap*", "expensive", "how much", "deal*", "discount*"),
		followUp: domain.PendingNavigate,
		followTo: domain.RouteProducts,
		responses: []responder{
			say("Prices are listed on every product card. Want me to open the catalog?"),
			say("Each product shows its price per unit. Should I take you to the products?"),
		},
	},
	{
		id:    "sell",
		match: anyOf("sell*", "add a product", "list a product", "new listing"),
		route: domain.RouteSell,
		responses: []responder{
			say("Let's list something. Opening the seller page."),
			say("Opening the page to add a new product."),
		},
	},
	{
		id:    "profile",
		match: anyOf("profile", "account", "setting*"),
		route: domain.RouteProfile,
		responses: []responder{
			say("Opening your profile."),
			say("Here's your account."),
		},
	},
	{
		id:    "home",
		match: anyOf("home", "main page", "start over"),
		route: domain.RouteHome,
		responses: []responder{
			say("Taking you home."),
			say("Back to the main page."),
		},
	},
	{
		id:    "greeting",
		match: anyOf("hello", "hi", "hey", "good morning", "good afternoon", "good evening", "howdy"),
		responses: []responder{
			func(s domain.ContextSnapshot) string {
				return fmt.Sprintf("Good %s! What can I find for you?", greetingPeriod(s.TimeOfDay))
			},
			say("Hi there! Ask me about products, your cart, or your orders."),
		},
	},
	{
		id:    "thanks",
		match: anyOf("thank*", "thx", "cheers"),
		responses: []responder{
			say("You're welcome!"),
			say("Happy to help."),
			say("Anytime."),
		},
	},
}

var defaultRule = fallbackRule{
	id:       "unknown",
	followUp: domain.PendingNavigate,
	followTo: domain.RouteProducts,
	responses: []responder{
		say("Sorry, I didn't catch that. Would you like me to show you the products?"),
		say("I'm not sure I understood. Should I open the catalog for you?"),
	},
}

// FallbackResponder is the deterministic keyword rule table used whenever the
// interpreter cannot produce a usable answer.
type FallbackResponder struct {
	rules      []fallbackRule
	variants   *rotator
	pendingTTL time.Duration
}

func NewFallbackResponder(pendingTTL time.Duration, seed uint64) *FallbackResponder {
	if pendingTTL <= 0 {
		pendingTTL = 30 * time.Second
	}
	return &FallbackResponder{
		rules:      fallbackRules,
		variants:   newRotator(seed),
		pendingTTL: pendingTTL,
	}
}

// Respond always returns an intent with a non-empty response, plus the id of the rule
// that produced it.
func (f *FallbackResponder) Respond(text string, snap domain.ContextSnapshot, now time.Time) (domain.Intent, string) {
	norm := normalize(text)
	rule := defaultRule
	for _, r := range f.rules {
		if r.match(norm) {
			rule = r
			break
		}
	}

	idx := f.variants.pick(rule.id, len(rule.responses))
	intent := domain.Intent{
		ResponseText: rule.responses[idx](snap),
		EndSession:   rule.end,
	}
	if rule.route != "" {
		intent.Navigation = &domain.NavigationAction{Route: rule.route}
	}
	if rule.followUp != "" {
		intent.FollowUp = &domain.PendingAction{
			Type:      rule.followUp,
			Route:     rule.followTo,
			ExpiresAt: now.Add(f.pendingTTL),
		}
	}
	return intent, rule.id
}

func greetingPeriod(t domain.TimeOfDay) string {
	if t == domain.Night {
		return "evening"
	}
	return string(t)
}

func routeLabel(r domain.Route) string {
	switch r {
	case domain.RouteProducts:
		return "the catalog"
	case domain.RouteCart:
		return "your cart"
	case domain.RouteOrders:
		return "your orders"
	case domain.RouteProfile:
		return "your profile"
	case domain.RouteSell:
		return "the seller page"
	default:
		return "the home page"
	}
}

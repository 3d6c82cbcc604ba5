package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
)

type productResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	Category         string  `json:"category"`
	ImageURL         string  `json:"imageUrl,omitempty"`
	Price            string  `json:"price"`
	PromotionalPrice *string `json:"promotionalPrice,omitempty"`
	PreparationTime  *int    `json:"preparationTime,omitempty"`
	Available        bool    `json:"available"`
}

func (h *Handler) productDTO(p catalog.Product) productResponse {
	img := p.ImageURL
	if img != "" && h.imageBaseURL != "" && !strings.Contains(img, "://") {
		img = strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(img, "/")
	}
	return productResponse{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		Category:         p.Category,
		ImageURL:         img,
		Price:            money(p.Price),
		PromotionalPrice: optMoney(p.PromotionalPrice),
		PreparationTime:  p.PreparationTime,
		Available:        p.Available,
	}
}

type addonResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type createOrderRequest struct {
	CustomerID           string             `json:"customerId"`
	CustomerName         string             `json:"customerName"`
	CustomerPhone        string             `json:"customerPhone"`
	CustomerEmail        string             `json:"customerEmail"`
	DeliveryAddress      string             `json:"deliveryAddress"`
	DeliveryComplement   string             `json:"deliveryComplement"`
	DeliveryNeighborhood string             `json:"deliveryNeighborhood"`
	OrderType            string             `json:"orderType"`
	PaymentMethod        string             `json:"paymentMethod"`
	ChangeFor            *decimal.Decimal   `json:"changeFor"`
	DeliveryFee          *decimal.Decimal   `json:"deliveryFee"`
	CouponCode           string             `json:"couponCode"`
	Notes                string             `json:"notes"`
	Items                []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductID string             `json:"productId"`
	Quantity  int                `json:"quantity"`
	Notes     string             `json:"notes"`
	Addons    []itemAddonRequest `json:"addons"`
}

type itemAddonRequest struct {
	AddonID  string `json:"addonId"`
	Quantity int    `json:"quantity"`
}

func (req createOrderRequest) domain(customerID string) order.CreateRequest {
	items := make([]pricing.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		addons := make([]pricing.AddonRequest, len(it.Addons))
		for j, a := range it.Addons {
			addons[j] = pricing.AddonRequest{AddonID: a.AddonID, Quantity: a.Quantity}
		}
		items[i] = pricing.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity, Note: it.Notes, Addons: addons}
	}
	return order.CreateRequest{
		CustomerID:           customerID,
		CustomerName:         req.CustomerName,
		CustomerPhone:        req.CustomerPhone,
		CustomerEmail:        req.CustomerEmail,
		DeliveryAddress:      req.DeliveryAddress,
		DeliveryComplement:   req.DeliveryComplement,
		DeliveryNeighborhood: req.DeliveryNeighborhood,
		Type:                 order.Type(strings.ToUpper(req.OrderType)),
		PaymentMethod:        order.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		ChangeFor:            req.ChangeFor,
		DeliveryFee:          req.DeliveryFee,
		CouponCode:           req.CouponCode,
		Notes:                req.Notes,
		Items:                items,
	}
}

type orderResponse struct {
	ID                   string              `json:"id"`
	OrderNumber          int64               `json:"orderNumber"`
	CustomerID           *string             `json:"customerId,omitempty"`
	CustomerName         string              `json:"customerName"`
	CustomerPhone        string              `json:"customerPhone"`
	CustomerEmail        string              `json:"customerEmail,omitempty"`
	DeliveryAddress      string              `json:"deliveryAddress,omitempty"`
	DeliveryComplement   string              `json:"deliveryComplement,omitempty"`
	DeliveryNeighborhood string              `json:"deliveryNeighborhood,omitempty"`
	OrderType            order.Type          `json:"orderType"`
	Status               order.Status        `json:"status"`
	PaymentMethod        order.PaymentMethod `json:"paymentMethod"`
	PaymentStatus        order.PaymentStatus `json:"paymentStatus"`
	Items                []orderItemResponse `json:"items"`
	Subtotal             string              `json:"subtotal"`
	DeliveryFee          string              `json:"deliveryFee"`
	Discount             string              `json:"discount"`
	Total                string              `json:"total"`
	ChangeFor            *string             `json:"changeFor,omitempty"`
	CouponCode           string              `json:"couponCode,omitempty"`
	Notes                string              `json:"notes,omitempty"`
	EstimatedTime        int                 `json:"estimatedTime"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

type orderItemResponse struct {
	ProductID   string              `json:"productId"`
	ProductName string              `json:"productName"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   string              `json:"unitPrice"`
	Notes       string              `json:"notes,omitempty"`
	Subtotal    string              `json:"subtotal"`
	Addons      []itemAddonResponse `json:"addons"`
}

type itemAddonResponse struct {
	AddonID   string `json:"addonId"`
	AddonName string `json:"addonName"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// money renders amounts as JSON strings with two decimals, e.g. "12.50".
func money(d decimal.Decimal) string { return d.StringFixed(2) }

func optMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money(*d)
	return &s
}

func orderDTO(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		addons := make([]itemAddonResponse, len(it.Addons))
		for j, a := range it.Addons {
			addons[j] = itemAddonResponse{AddonID: a.AddonID, AddonName: a.AddonName, Quantity: a.Quantity, Price: money(a.Price)}
		}
		items[i] = orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			Notes:       it.Notes,
			Subtotal:    money(it.Subtotal),
			Addons:      addons,
		}
	}
	return orderResponse{
		ID:                   o.ID,
		OrderNumber:          o.Number,
		CustomerID:           o.CustomerID,
		CustomerName:         o.CustomerName,
		CustomerPhone:        o.CustomerPhone,
		CustomerEmail:        o.CustomerEmail,
		DeliveryAddress:      o.DeliveryAddress,
		DeliveryComplement:   o.DeliveryComplement,
		DeliveryNeighborhood: o.DeliveryNeighborhood,
		OrderType:            o.Type,
		Status:               o.Status,
		PaymentMethod:        o.PaymentMethod,
		PaymentStatus:        o.PaymentStatus,
		Items:                items,
		Subtotal:             money(o.Subtotal),
		DeliveryFee:          money(o.DeliveryFee),
		Discount:             money(o.Discount),
		Total:                money(o.Total),
		ChangeFor:            optMoney(o.ChangeFor),
		CouponCode:           o.CouponCode,
		Notes:                o.Notes,
		EstimatedTime:        o.EstimatedTime,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func ordersDTO(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = orderDTO(&orders[i])
	}
	return out
}

type validateCouponRequest struct {
	Code       string          `json:"code"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CustomerID string          `json:"customerId"`
}

type validateCouponResponse struct {
	Valid          bool                `json:"valid"`
	Code           string              `json:"code"`
	Type           coupon.DiscountType `json:"type,omitempty"`
	DiscountAmount string              `json:"discountAmount"`
	Message        string              `json:"message"`
}

type couponRequest struct {
	Code             string           `json:"code"`
	Description      string           `json:"description"`
	Type             string           `json:"type"`
	Value            decimal.Decimal  `json:"value"`
	MinOrderValue    *decimal.Decimal `json:"minOrderValue"`
	MaxDiscountValue *decimal.Decimal `json:"maxDiscountValue"`
	UsageLimit       *int             `json:"usageLimit"`
	MaxUsesPerUser   *int             `json:"maxUsesPerUser"`
	StartDate        *time.Time       `json:"startDate"`
	ExpirationDate   *time.Time       `json:"expirationDate"`
}

func (req couponRequest) domain() coupon.NewCoupon {
	return coupon.NewCoupon{
		Code:             req.Code,
		Description:      req.Description,
		Type:             coupon.DiscountType(strings.ToUpper(req.Type)),
		Value:            req.Value,
		MinOrderValue:    req.MinOrderValue,
		MaxDiscountValue: req.MaxDiscountValue,
		UsageLimit:       req.UsageLimit,
		MaxUsesPerUser:   req.MaxUsesPerUser,
		StartDate:        req.StartDate,
		ExpirationDate:   req.ExpirationDate,
	}
}

type couponPatchRequest struct {
	Description      *string          `json:"description"`
	Value            *decimal.Decimal `json:"value"`
	MinOrderValue    *decimal.Decimal `json:"minOrderValue"`
	MaxDiscountValue *decimal.Decimal `json:"maxDiscountValue"`
	UsageLimit       *int             `json:"usageLimit"`
	MaxUsesPerUser   *int             `json:"maxUsesPerUser"`
	ExpirationDate   *time.Time       `json:"expirationDate"`
	Active           *bool            `json:"active"`
}

func (req couponPatchRequest) domain() coupon.Patch {
	return coupon.Patch(req)
}

type couponResponse struct {
	ID               string              `json:"id"`
	Code             string              `json:"code"`
	Description      string              `json:"description,omitempty"`
	Type             coupon.DiscountType `json:"type"`
	Value            string              `json:"value"`
	MinOrderValue    *string             `json:"minOrderValue,omitempty"`
	MaxDiscountValue *string             `json:"maxDiscountValue,omitempty"`
	UsageLimit       *int                `json:"usageLimit,omitempty"`
	MaxUsesPerUser   *int                `json:"maxUsesPerUser,omitempty"`
	UsageCount       int                 `json:"usageCount"`
	StartDate        *time.Time          `json:"startDate,omitempty"`
	ExpirationDate   *time.Time          `json:"expirationDate,omitempty"`
	Active           bool                `json:"active"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func couponDTO(c *coupon.Coupon) couponResponse {
	return couponResponse{
		ID:               c.ID,
		Code:             c.Code,
		Description:      c.Description,
		Type:             c.Type,
		Value:            money(c.Value),
		MinOrderValue:    optMoney(c.MinOrderValue),
		MaxDiscountValue: optMoney(c.MaxDiscountValue),
		UsageLimit:       c.UsageLimit,
		MaxUsesPerUser:   c.MaxUsesPerUser,
		UsageCount:       c.UsageCount,
		StartDate:        c.StartDate,
		ExpirationDate:   c.ExpirationDate,
		Active:           c.Active,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type registerCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type customerResponse struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Email          string       `json:"email,omitempty"`
	Phone          string       `json:"phone,omitempty"`
	LoyaltyPoints  int          `json:"loyaltyPoints"`
	LifetimePoints int          `json:"lifetimePoints"`
	Tier           loyalty.Tier `json:"tier"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type registerCustomerResponse struct {
	Customer customerResponse `json:"customer"`
	Token    string           `json:"token"`
}

type balanceResponse struct {
	CustomerID     string       `json:"customerId"`
	Name           string       `json:"name"`
	LoyaltyPoints  int          `json:"loyaltyPoints"`
	LifetimePoints int          `json:"lifetimePoints"`
	Tier           loyalty.Tier `json:"tier"`
}

type transactionResponse struct {
	ID          string                  `json:"id"`
	Type        loyalty.TransactionType `json:"type"`
	Points      int                     `json:"points"`
	Description string                  `json:"description"`
	OrderID     *string                 `json:"orderId,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
}

func transactionDTO(t *loyalty.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Type:        t.Type,
		Points:      t.Points,
		Description: t.Description,
		OrderID:     t.OrderID,
		CreatedAt:   t.CreatedAt,
	}
}

type redeemRequest struct {
	Points      int    `json:"points"`
	Description string `json:"description"`
}

type adjustRequest struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

type settingsResponse struct {
	StoreName             string    `json:"storeName"`
	Description           string    `json:"description,omitempty"`
	Whatsapp              string    `json:"whatsapp,omitempty"`
	Address               string    `json:"address,omitempty"`
	LogoURL               string    `json:"logoUrl,omitempty"`
	IsOpen                bool      `json:"isOpen"`
	DeliveryEnabled       bool      `json:"deliveryEnabled"`
	PickupEnabled         bool      `json:"pickupEnabled"`
	DeliveryFee           string    `json:"deliveryFee"`
	MinOrderValue         string    `json:"minOrderValue"`
	DeliveryTimeMin       int       `json:"deliveryTimeMin"`
	DeliveryTimeMax       int       `json:"deliveryTimeMax"`
	FreeDeliveryThreshold *string   `json:"freeDeliveryThreshold,omitempty"`
	PixKey                string    `json:"pixKey,omitempty"`
	PixDiscountPercent    string    `json:"pixDiscountPercent"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func settingsDTO(s *settings.Store) settingsResponse {
	return settingsResponse{
		StoreName:             s.StoreName,
		Description:           s.Description,
		Whatsapp:              s.Whatsapp,
		Address:               s.Address,
		LogoURL:               s.LogoURL,
		IsOpen:                s.IsOpen,
		DeliveryEnabled:       s.DeliveryEnabled,
		PickupEnabled:         s.PickupEnabled,
		DeliveryFee:           money(s.DeliveryFee),
		MinOrderValue:         money(s.MinOrderValue),
		DeliveryTimeMin:       s.DeliveryTimeMin,
		DeliveryTimeMax:       s.DeliveryTimeMax,
		FreeDeliveryThreshold: optMoney(s.FreeDeliveryThreshold),
		PixKey:                s.PixKey,
		PixDiscountPercent:    money(s.PixDiscountPercent),
		UpdatedAt:             s.UpdatedAt,
	}
}

type settingsPatchRequest struct {
	StoreName             *string          `json:"storeName"`
	Description           *string          `json:"description"`
	Whatsapp              *string          `json:"whatsapp"`
	Address               *string          `json:"address"`
	LogoURL               *string          `json:"logoUrl"`
	IsOpen                *bool            `json:"isOpen"`
	DeliveryEnabled       *bool            `json:"deliveryEnabled"`
	PickupEnabled         *bool            `json:"pickupEnabled"`
	DeliveryFee           *decimal.Decimal `json:"deliveryFee"`
	MinOrderValue         *decimal.Decimal `json:"minOrderValue"`
	DeliveryTimeMin       *int             `json:"deliveryTimeMin"`
	DeliveryTimeMax       *int             `json:"deliveryTimeMax"`
	FreeDeliveryThreshold *decimal.Decimal `json:"freeDeliveryThreshold"`
	PixKey                *string          `json:"pixKey"`
	PixDiscountPercent    *decimal.Decimal `json:"pixDiscountPercent"`
}

func (req settingsPatchRequest) domain() settings.Patch {
	return settings.Patch(req)
}

package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

type addressDTO struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Zip      string `json:"zip"`
}

type clientDTO struct {
	FullName string     `json:"fullName"`
	Email    string     `json:"email"`
	Phone    string     `json:"phone"`
	Address  addressDTO `json:"address"`
}

type lineRequest struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unitPrice"`
}

// orderRequest — тело POST и PUT. Итоги клиент не передаёт: их считает сервер.
type orderRequest struct {
	OwnerID int64         `json:"ownerId"`
	Client  clientDTO     `json:"client"`
	Lines   []lineRequest `json:"lines"`
}

type lineResponse struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unitPrice"`
	LineTotal domain.Money `json:"lineTotal"`
}

type orderResponse struct {
	ID          string         `json:"id"`
	OwnerID     int64          `json:"ownerId"`
	Client      clientDTO      `json:"client"`
	Lines       []lineResponse `json:"lines"`
	TotalItems  int            `json:"totalItems"`
	TotalAmount domain.Money   `json:"totalAmount"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type pageResponse struct {
	Orders     []orderResponse `json:"orders"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int64           `json:"total"`
	TotalPages int             `json:"totalPages"`
}

type productResponse struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Category      string       `json:"category"`
	Price         domain.Money `json:"price"`
	StockQuantity int          `json:"stockQuantity"`
	IsActive      bool         `json:"isActive"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type timelineEventResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

type timelineResponse struct {
	OrderID string                  `json:"orderId"`
	Events  []timelineEventResponse `json:"events"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r orderRequest) toDraft() domain.OrderDraft {
	lines := make([]domain.OrderLine, len(r.Lines))
	for i, line := range r.Lines {
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return domain.OrderDraft{
		OwnerID: r.OwnerID,
		Client: domain.Client{
			FullName: r.Client.FullName,
			Email:    r.Client.Email,
			Phone:    r.Client.Phone,
			Address: domain.Address{
				Street:   r.Client.Address.Street,
				Number:   r.Client.Address.Number,
				City:     r.Client.Address.City,
				Province: r.Client.Address.Province,
				Country:  r.Client.Address.Country,
				Zip:      r.Client.Address.Zip,
			},
		},
		Lines: lines,
	}
}

func newOrderResponse(order domain.Order) orderResponse {
	lines := make([]lineResponse, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = lineResponse{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
	}
	addr := order.Client.Address
	return orderResponse{
		ID:      order.ID,
		OwnerID: order.OwnerID,
		Client: clientDTO{
			FullName: order.Client.FullName,
			Email:    order.Client.Email,
			Phone:    order.Client.Phone,
			Address: addressDTO{
				Street:   addr.Street,
				Number:   addr.Number,
				City:     addr.City,
				Province: addr.Province,
				Country:  addr.Country,
				Zip:      addr.Zip,
			},
		},
		Lines:       lines,
		TotalItems:  order.TotalItems,
		TotalAmount: order.TotalAmount,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func newOrderListResponse(orders []domain.Order) []orderResponse {
	result := make([]orderResponse, len(orders))
	for i, order := range orders {
		result[i] = newOrderResponse(order)
	}
	return result
}

func newPageResponse(page domain.OrderPage) pageResponse {
	return pageResponse{
		Orders:     newOrderListResponse(page.Orders),
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		UpdatedAt:     p.UpdatedAt,
	}
}

func newTimelineResponse(orderID string, events []domain.TimelineEvent) timelineResponse {
	result := make([]timelineEventResponse, len(events))
	for i, e := range events {
		result[i] = timelineEventResponse{Type: e.Type, Reason: e.Reason, OccurredAt: e.Occurred}
	}
	return timelineResponse{OrderID: orderID, Events: result}
}

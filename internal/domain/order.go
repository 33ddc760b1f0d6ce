package domain

import "time"

// Address — адрес доставки.
type Address struct {
	Street   string
	Number   string
	City     string
	Province string
	Country  string
	Zip      string
}

// Client — контактные данные покупателя, хранятся вместе с заказом как есть.
type Client struct {
	FullName string
	Email    string
	Phone    string
	Address  Address
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	ProductID int64
	Quantity  int
	// UnitPrice фиксируется на момент заказа и обязан совпадать с ценой каталога.
	UnitPrice Money
	// LineTotal всегда пересчитывается движком резервирования.
	LineTotal Money
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	OwnerID     int64
	Client      Client
	Lines       []OrderLine
	TotalItems  int
	TotalAmount Money
	IsDeleted   bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderDraft — входные данные для создания или замены заказа.
type OrderDraft struct {
	OwnerID int64
	Client  Client
	Lines   []OrderLine
}

// ValidateShape проверяет поля, не требующие обращения к каталогу.
func (d OrderDraft) ValidateShape() error {
	if len(d.Lines) == 0 {
		return ErrEmptyOrder
	}
	if d.OwnerID <= 0 {
		return ErrOwnerRequired
	}
	for i, line := range d.Lines {
		if line.Quantity <= 0 {
			return &LineError{Index: i, ProductID: line.ProductID, Err: ErrInvalidQuantity}
		}
		if line.UnitPrice < 0 {
			return &LineError{Index: i, ProductID: line.ProductID, Err: ErrInvalidPrice}
		}
	}
	return nil
}

// PricedLines возвращает копию позиций с пересчитанными суммами и итоги заказа.
func PricedLines(lines []OrderLine) ([]OrderLine, int, Money) {
	priced := make([]OrderLine, len(lines))
	var (
		items int
		total Money
	)
	for i, line := range lines {
		line.LineTotal = line.UnitPrice.Mul(line.Quantity)
		priced[i] = line
		items += line.Quantity
		total += line.LineTotal
	}
	return priced, items, total
}

// ApplyTotals пересчитывает LineTotal, TotalItems и TotalAmount.
func (o *Order) ApplyTotals() {
	o.Lines, o.TotalItems, o.TotalAmount = PricedLines(o.Lines)
}

// CheckTotals сверяет сохранённые итоги с позициями.
func (o Order) CheckTotals() bool {
	_, items, total := PricedLines(o.Lines)
	if items != o.TotalItems || total != o.TotalAmount {
		return false
	}
	for _, line := range o.Lines {
		if line.LineTotal != line.UnitPrice.Mul(line.Quantity) {
			return false
		}
	}
	return true
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	c := o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	return c
}

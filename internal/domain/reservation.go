package domain

import (
	"fmt"
	"sort"
)

// StockAdjustment описывает атомарное изменение остатка одного товара.
type StockAdjustment struct {
	ProductID int64
	// Delta < 0 — резервирование, Delta > 0 — возврат на склад.
	Delta int
	// ExpectedMinimum — минимальный остаток до изменения; 0 означает «без ограничения».
	ExpectedMinimum int
}

// Reserve строит условное списание qty единиц.
func Reserve(productID int64, qty int) StockAdjustment {
	return StockAdjustment{ProductID: productID, Delta: -qty, ExpectedMinimum: qty}
}

// Release строит безусловный возврат qty единиц.
func Release(productID int64, qty int) StockAdjustment {
	return StockAdjustment{ProductID: productID, Delta: qty}
}

// Inverse возвращает компенсирующее изменение.
func (a StockAdjustment) Inverse() StockAdjustment {
	if a.Delta > 0 {
		return Reserve(a.ProductID, a.Delta)
	}
	return Release(a.ProductID, -a.Delta)
}

// LineError привязывает ошибку проверки к конкретной позиции.
type LineError struct {
	Index     int
	ProductID int64
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (product %d): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// QuantitiesByProduct суммирует количество по товарам.
func QuantitiesByProduct(lines []OrderLine) map[int64]int {
	result := make(map[int64]int, len(lines))
	for _, line := range lines {
		result[line.ProductID] += line.Quantity
	}
	return result
}

// NetAdjustments вычисляет разницу между старым и новым набором позиций.
// Списания идут первыми, затем возвраты; внутри группы — по возрастанию ID товара.
func NetAdjustments(oldLines, newLines []OrderLine) []StockAdjustment {
	oldQty := QuantitiesByProduct(oldLines)
	newQty := QuantitiesByProduct(newLines)

	ids := make(map[int64]struct{}, len(oldQty)+len(newQty))
	for id := range oldQty {
		ids[id] = struct{}{}
	}
	for id := range newQty {
		ids[id] = struct{}{}
	}

	var reserves, releases []StockAdjustment
	for id := range ids {
		diff := newQty[id] - oldQty[id]
		switch {
		case diff > 0:
			reserves = append(reserves, Reserve(id, diff))
		case diff < 0:
			releases = append(releases, Release(id, -diff))
		}
	}
	SortAdjustments(reserves)
	SortAdjustments(releases)

	return append(reserves, releases...)
}

// SortAdjustments упорядочивает изменения по ID товара.
func SortAdjustments(adjustments []StockAdjustment) {
	sort.Slice(adjustments, func(i, j int) bool {
		return adjustments[i].ProductID < adjustments[j].ProductID
	})
}

// InverseAll строит компенсацию для уже применённых изменений (в обратном порядке).
func InverseAll(applied []StockAdjustment) []StockAdjustment {
	result := make([]StockAdjustment, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		result = append(result, applied[i].Inverse())
	}
	return result
}

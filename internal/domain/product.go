package domain

import "time"

// Product — позиция каталога с изменяемым остатком.
type Product struct {
	ID            int64
	Name          string
	Category      string
	Price         Money
	StockQuantity int
	IsActive      bool
	UpdatedAt     time.Time
}

// SeedProducts возвращает стартовый каталог для локального запуска.
func SeedProducts() []Product {
	now := time.Now().UTC()
	return []Product{
		{ID: 1, Name: "Funko Pop Darth Vader", Category: "Star Wars", Price: 290, StockQuantity: 20, IsActive: true, UpdatedAt: now},
		{ID: 2, Name: "Funko Pop Baby Yoda", Category: "Star Wars", Price: 290, StockQuantity: 20, IsActive: true, UpdatedAt: now},
		{ID: 3, Name: "Funko Pop Iron Man", Category: "Marvel", Price: 1599, StockQuantity: 10, IsActive: true, UpdatedAt: now},
		{ID: 4, Name: "Funko Pop Spider-Man", Category: "Marvel", Price: 1299, StockQuantity: 5, IsActive: true, UpdatedAt: now},
		{ID: 5, Name: "Funko Pop Pikachu", Category: "Anime", Price: 999, StockQuantity: 0, IsActive: false, UpdatedAt: now},
	}
}

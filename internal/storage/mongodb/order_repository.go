package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const (
	ordersCollection = "orders"
	opTimeout        = 5 * time.Second
)

type addressDoc struct {
	Street   string `bson:"street"`
	Number   string `bson:"number"`
	City     string `bson:"city"`
	Province string `bson:"province"`
	Country  string `bson:"country"`
	Zip      string `bson:"zip"`
}

type clientDoc struct {
	FullName string     `bson:"full_name"`
	Email    string     `bson:"email"`
	Phone    string     `bson:"phone"`
	Address  addressDoc `bson:"address"`
}

type lineDoc struct {
	ProductID int64 `bson:"product_id"`
	Quantity  int   `bson:"quantity"`
	UnitPrice int64 `bson:"unit_price_cents"`
	LineTotal int64 `bson:"line_total_cents"`
}

type orderDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	OwnerID     int64              `bson:"owner_id"`
	Client      clientDoc          `bson:"client"`
	Lines       []lineDoc          `bson:"lines"`
	TotalItems  int                `bson:"total_items"`
	TotalAmount int64              `bson:"total_amount_cents"`
	IsDeleted   bool               `bson:"is_deleted"`
	Version     int64              `bson:"version"`
	CreatedAt   time.Time          `bson:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at"`
}

// OrderRepository хранит заказ одним документом вместе с позициями.
// Идентификатор заказа — hex-представление ObjectID.
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository создаёт MongoDB-реализацию OrderRepository.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(ordersCollection)}
}

// EnsureIndexes создаёт индексы для выборок по владельцу и постраничного списка.
func (r *OrderRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "is_deleted", Value: 1}, {Key: "owner_id", Value: 1}, {Key: "_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}
	return nil
}

func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	order = order.Clone()
	order.Version = 1
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	doc := toDoc(order)
	doc.ID = primitive.NewObjectID()
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Order{}, domain.ErrOrderVersionConflict
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return fromDoc(doc), nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	var doc orderDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return fromDoc(doc), nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"owner_id": ownerID, "is_deleted": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders by owner: %w", err)
	}
	return decodeAll(ctx, cursor)
}

func (r *OrderRepository) ListPage(ctx context.Context, query domain.PageQuery) (domain.OrderPage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"is_deleted": false}
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	opts := options.Find().
		SetSort(sortSpec(query)).
		SetSkip(int64(query.Offset())).
		SetLimit(int64(query.Limit))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("find orders page: %w", err)
	}
	orders, err := decodeAll(ctx, cursor)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.NewOrderPage(query, orders, total), nil
}

func sortSpec(query domain.PageQuery) bson.D {
	dir := 1
	if query.SortDirection == domain.SortDesc {
		dir = -1
	}
	if query.SortField == domain.SortByOwnerID {
		return bson.D{{Key: "owner_id", Value: dir}, {Key: "_id", Value: dir}}
	}
	return bson.D{{Key: "_id", Value: dir}}
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(order.ID)
	if err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}

	doc := toDoc(order)
	update := bson.M{
		"$set": bson.M{
			"owner_id":           doc.OwnerID,
			"client":             doc.Client,
			"lines":              doc.Lines,
			"total_items":        doc.TotalItems,
			"total_amount_cents": doc.TotalAmount,
			"is_deleted":         doc.IsDeleted,
			"updated_at":         doc.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}
	return r.swap(ctx, bson.M{"_id": oid, "version": order.Version}, update, oid, false)
}

func (r *OrderRepository) Delete(ctx context.Context, id string, version int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	update := bson.M{
		"$set": bson.M{"is_deleted": true, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	return r.swap(ctx, bson.M{"_id": oid, "version": version, "is_deleted": false}, update, oid, true)
}

// swap выполняет compare-and-swap по версии и различает отсутствие документа и конфликт.
func (r *OrderRepository) swap(ctx context.Context, filter, update bson.M, oid primitive.ObjectID, deletedIsMissing bool) (domain.Order, error) {
	var doc orderDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return fromDoc(doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	var current orderDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&current); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("check order: %w", err)
	}
	if deletedIsMissing && current.IsDeleted {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return domain.Order{}, domain.ErrOrderVersionConflict
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]domain.Order, error) {
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, fromDoc(doc))
	}
	return orders, nil
}

func toDoc(order domain.Order) orderDoc {
	lines := make([]lineDoc, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, lineDoc{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: int64(line.UnitPrice),
			LineTotal: int64(line.LineTotal),
		})
	}
	addr := order.Client.Address
	return orderDoc{
		OwnerID: order.OwnerID,
		Client: clientDoc{
			FullName: order.Client.FullName,
			Email:    order.Client.Email,
			Phone:    order.Client.Phone,
			Address: addressDoc{
				Street: addr.Street, Number: addr.Number, City: addr.City,
				Province: addr.Province, Country: addr.Country, Zip: addr.Zip,
			},
		},
		Lines:       lines,
		TotalItems:  order.TotalItems,
		TotalAmount: int64(order.TotalAmount),
		IsDeleted:   order.IsDeleted,
		Version:     order.Version,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func fromDoc(doc orderDoc) domain.Order {
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: domain.Money(line.UnitPrice),
			LineTotal: domain.Money(line.LineTotal),
		})
	}
	addr := doc.Client.Address
	return domain.Order{
		ID:      doc.ID.Hex(),
		OwnerID: doc.OwnerID,
		Client: domain.Client{
			FullName: doc.Client.FullName,
			Email:    doc.Client.Email,
			Phone:    doc.Client.Phone,
			Address: domain.Address{
				Street: addr.Street, Number: addr.Number, City: addr.City,
				Province: addr.Province, Country: addr.Country, Zip: addr.Zip,
			},
		},
		Lines:       lines,
		TotalItems:  doc.TotalItems,
		TotalAmount: domain.Money(doc.TotalAmount),
		IsDeleted:   doc.IsDeleted,
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

package mongodb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
)

const defaultLocalMongoURI = "mongodb://localhost:27017"

func openMongoForIntegrationTest(t *testing.T) *mongo.Database {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("OMS_MONGO_TEST_URI"))
	if uri == "" {
		uri = defaultLocalMongoURI
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := Connect(ctx, uri, fmt.Sprintf("oms_test_%d", time.Now().UnixNano()))
	if err != nil {
		t.Skipf("mongo is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = Disconnect(ctx, db)
	})
	return db
}

func newOrder(ownerID int64, qty int) domain.Order {
	order := domain.Order{
		OwnerID: ownerID,
		Client: domain.Client{
			FullName: "John Smith",
			Address:  domain.Address{City: "Cordoba", Country: "AR"},
		},
		Lines: []domain.OrderLine{{ProductID: 1, Quantity: qty, UnitPrice: 290}},
	}
	order.ApplyTotals()
	return order
}

func TestOrderRepository_MongoCreateGetList(t *testing.T) {
	repo := NewOrderRepository(openMongoForIntegrationTest(t))
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))

	first, err := repo.Create(ctx, newOrder(3, 2))
	require.NoError(t, err)
	second, err := repo.Create(ctx, newOrder(3, 1))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newOrder(1, 4))
	require.NoError(t, err)

	require.Len(t, first.ID, 24)
	require.Equal(t, int64(1), first.Version)

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "Cordoba", got.Client.Address.City)
	require.Equal(t, domain.Money(580), got.TotalAmount)
	require.Equal(t, 2, got.Lines[0].Quantity)

	owned, err := repo.ListByOwner(ctx, 3)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, first.ID, owned[0].ID)
	require.Equal(t, second.ID, owned[1].ID)

	page, err := repo.ListPage(ctx, domain.PageQuery{
		Page: 2, Limit: 2, SortField: domain.SortByOwnerID, SortDirection: domain.SortAsc,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Orders, 1)
	require.Equal(t, second.ID, page.Orders[0].ID)

	_, err = repo.Get(ctx, "not-an-object-id")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_MongoUpdateAndDelete(t *testing.T) {
	repo := NewOrderRepository(openMongoForIntegrationTest(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, newOrder(5, 2))
	require.NoError(t, err)

	changed := created.Clone()
	changed.Lines[0].Quantity = 1
	changed.ApplyTotals()
	updated, err := repo.Update(ctx, changed)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, 1, updated.TotalItems)

	_, err = repo.Update(ctx, changed)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	_, err = repo.Delete(ctx, created.ID, 1)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	deleted, err := repo.Delete(ctx, created.ID, updated.Version)
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)
	require.Equal(t, int64(3), deleted.Version)

	_, err = repo.Delete(ctx, created.ID, deleted.Version)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	owned, err := repo.ListByOwner(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, owned)
}

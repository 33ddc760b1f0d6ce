package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/oms-reservations/internal/domain"
	"github.com/vladislavdragonenkov/oms-reservations/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/httpapi"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/idempotency"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/oms-reservations/internal/service/outbox"
	"github.com/vladislavdragonenkov/oms-reservations/internal/storage/memory"
)

// OrderLifecycleTestSuite проходит полный путь заказа: HTTP API, резервирование,
// история заказа и доставка уведомлений через outbox в Kafka.
type OrderLifecycleTestSuite struct {
	suite.Suite
	server   *httptest.Server
	catalog  *memory.CatalogRepository
	outbox   *memory.OutboxRepository
	producer *mocks.SyncProducer
	worker   *outbox.Worker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	suite.catalog = memory.NewCatalogRepository(domain.SeedProducts()...)
	suite.outbox = memory.NewOutboxRepository()

	manager := lifecycle.NewManager(memory.NewOrderRepository(), suite.catalog,
		lifecycle.WithOutbox(suite.outbox),
		lifecycle.WithTimeline(memory.NewTimelineRepository()),
		lifecycle.WithLogger(logger),
		lifecycle.WithStoreTimeout(time.Second),
	)
	handler := httpapi.NewHandler(manager,
		httpapi.WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger))),
		httpapi.WithLogger(logger),
	)
	suite.server = httptest.NewServer(handler.Routes())

	suite.producer = mocks.NewSyncProducer(suite.T(), nil)
	producer := kafka.NewProducerFrom(suite.producer, logger)
	suite.worker = outbox.NewWorker(suite.outbox,
		kafka.NewNotificationPublisher(producer, kafka.TopicNotifications, kafka.WithPublisherLogger(logger)),
		outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, kafka.WithPublisherLogger(logger))),
		outbox.WithLogger(logger),
		outbox.WithMaxAttempts(1),
		outbox.WithRetryBaseDelay(0),
	)
}

func (suite *OrderLifecycleTestSuite) TearDownTest() {
	suite.server.Close()
	require.NoError(suite.T(), suite.producer.Close())
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	// 1. Создаём заказ на две позиции
	status, body := suite.do(http.MethodPost, "/api/v1/orders", "", orderJSON(7, line{1, 2, "2.90"}, line{3, 1, "15.99"}))
	require.Equal(suite.T(), http.StatusCreated, status, string(body))

	var created struct {
		ID          string  `json:"id"`
		TotalItems  int     `json:"totalItems"`
		TotalAmount float64 `json:"totalAmount"`
		Version     int64   `json:"version"`
	}
	require.NoError(suite.T(), json.Unmarshal(body, &created))
	require.NotEmpty(suite.T(), created.ID)
	require.Equal(suite.T(), 3, created.TotalItems)
	require.InDelta(suite.T(), 21.79, created.TotalAmount, 0.0001) // 2*2.90 + 15.99
	require.Equal(suite.T(), 18, suite.stock(1))
	require.Equal(suite.T(), 9, suite.stock(3))

	// 2. Меняем состав: товар 1 уходит, товара 3 становится больше
	status, body = suite.do(http.MethodPut, "/api/v1/orders/"+created.ID, "", orderJSON(7, line{3, 4, "15.99"}))
	require.Equal(suite.T(), http.StatusOK, status, string(body))
	require.Equal(suite.T(), 20, suite.stock(1))
	require.Equal(suite.T(), 6, suite.stock(3))

	// 3. Удаляем заказ, остатки возвращаются
	status, _ = suite.do(http.MethodDelete, "/api/v1/orders/"+created.ID, "", "")
	require.Equal(suite.T(), http.StatusNoContent, status)
	require.Equal(suite.T(), 10, suite.stock(3))

	status, _ = suite.do(http.MethodGet, "/api/v1/orders/"+created.ID, "", "")
	require.Equal(suite.T(), http.StatusNotFound, status)

	// 4. История содержит все три шага
	status, body = suite.do(http.MethodGet, "/api/v1/orders/"+created.ID+"/timeline", "", "")
	require.Equal(suite.T(), http.StatusOK, status)
	var timeline struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	require.NoError(suite.T(), json.Unmarshal(body, &timeline))
	var types []string
	for _, event := range timeline.Events {
		types = append(types, event.Type)
	}
	require.Equal(suite.T(), []string{domain.TimelineOrderCreated, domain.TimelineOrderUpdated, domain.TimelineOrderRemoved}, types)

	// 5. Все уведомления уходят в Kafka валидными конвертами
	pending := len(suite.outbox.Pending())
	require.Positive(suite.T(), pending)
	for i := 0; i < pending; i++ {
		suite.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(validEnvelope)
	}
	require.Equal(suite.T(), pending, suite.worker.ProcessOnce(context.Background()))
	require.Empty(suite.T(), suite.outbox.Pending())
}

func (suite *OrderLifecycleTestSuite) TestOversellRollsBackEarlierLines() {
	// Товар 4: остаток 5. Первая позиция проходит, вторая нет.
	status, body := suite.do(http.MethodPost, "/api/v1/orders", "", orderJSON(8, line{3, 2, "15.99"}, line{4, 6, "12.99"}))
	require.Equal(suite.T(), http.StatusConflict, status, string(body))
	require.Contains(suite.T(), string(body), "insufficient_stock")

	require.Equal(suite.T(), 10, suite.stock(3))
	require.Equal(suite.T(), 5, suite.stock(4))
	require.Empty(suite.T(), suite.outbox.Pending())
}

func (suite *OrderLifecycleTestSuite) TestIdempotentCreateReservesOnce() {
	payload := orderJSON(9, line{2, 3, "2.90"})

	firstStatus, first := suite.do(http.MethodPost, "/api/v1/orders", "order-9-attempt", payload)
	require.Equal(suite.T(), http.StatusCreated, firstStatus)

	secondStatus, second := suite.do(http.MethodPost, "/api/v1/orders", "order-9-attempt", payload)
	require.Equal(suite.T(), http.StatusCreated, secondStatus)
	require.JSONEq(suite.T(), string(first), string(second))
	require.Equal(suite.T(), 17, suite.stock(2))

	status, body := suite.do(http.MethodGet, "/api/v1/owners/9/orders", "", "")
	require.Equal(suite.T(), http.StatusOK, status)
	var orders []json.RawMessage
	require.NoError(suite.T(), json.Unmarshal(body, &orders))
	require.Len(suite.T(), orders, 1)
}

func (suite *OrderLifecycleTestSuite) TestFailedNotificationGoesToReplayableDLQ() {
	status, body := suite.do(http.MethodPost, "/api/v1/orders", "", orderJSON(10, line{1, 1, "2.90"}))
	require.Equal(suite.T(), http.StatusCreated, status, string(body))
	require.Len(suite.T(), suite.outbox.Pending(), 2)

	// Заказ не доставлен и уходит в DLQ, уведомление о товаре доставлено.
	suite.producer.ExpectSendMessageAndFail(errors.New("leader not available"))
	suite.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(replayableDeadLetter)
	suite.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(validEnvelope)

	require.Equal(suite.T(), 1, suite.worker.ProcessOnce(context.Background()))
	require.Empty(suite.T(), suite.outbox.Pending())
}

type line struct {
	productID int64
	quantity  int
	price     string
}

func orderJSON(ownerID int64, lines ...line) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"ownerId": %d, "client": {"fullName": "Integration", "email": "it@example.com"}, "lines": [`, ownerID)
	for i, l := range lines {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, `{"productId": %d, "quantity": %d, "unitPrice": %s}`, l.productID, l.quantity, l.price)
	}
	buf.WriteString("]}")
	return buf.String()
}

func (suite *OrderLifecycleTestSuite) do(method, path, idempotencyKey, body string) (int, []byte) {
	req, err := http.NewRequest(method, suite.server.URL+path, bytes.NewBufferString(body))
	require.NoError(suite.T(), err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := suite.server.Client().Do(req)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(suite.T(), err)
	return resp.StatusCode, out.Bytes()
}

func (suite *OrderLifecycleTestSuite) stock(productID int64) int {
	product, err := suite.catalog.GetProduct(context.Background(), productID)
	require.NoError(suite.T(), err)
	return product.StockQuantity
}

func validEnvelope(value []byte) error {
	var envelope kafka.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return err
	}
	_, err := envelope.Notification()
	return err
}

func replayableDeadLetter(value []byte) error {
	deadLetter, err := kafka.ParseDeadLetter(value)
	if err != nil {
		return err
	}
	if deadLetter.EventType != "order.create" {
		return fmt.Errorf("unexpected event type %q", deadLetter.EventType)
	}
	_, err = kafka.NewEnvelope(deadLetter.OutboxMessage(), time.Now()).Notification()
	return err
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

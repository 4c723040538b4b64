package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/notify"
	"github.com/astrosat/safers-dashboard-api/internal/repository"
)

// Map-request status routing keys look like
// status/<message_type>/<datatype_id>/<site>/<request_id>.
const (
	statusKeySegments = 5

	messageTypeStart = "start"
	messageTypeEnd   = "end"
)

// statusBody is the inbound body of a layer status message.
type statusBody struct {
	StatusCode int    `json:"status_code"`
	URL        string `json:"url"`
	Message    string `json:"message"`
}

// MapRequestHandler applies processing-service status messages to the
// per-layer state machine.
type MapRequestHandler struct {
	db     *sql.DB
	feed   *notify.Feed
	logger *zap.Logger
}

func NewMapRequestHandler(db *sql.DB, feed *notify.Feed, logger *zap.Logger) *MapRequestHandler {
	return &MapRequestHandler{
		db:     db,
		feed:   feed,
		logger: logger,
	}
}

// Handle applies one status message. Messages for unknown requests or data
// types are rejected for redelivery; late messages for layers already in a
// terminal state are acknowledged without effect.
func (h *MapRequestHandler) Handle(routingKey string, payload []byte) error {
	segments := strings.Split(routingKey, "/")
	if len(segments) != statusKeySegments || segments[0] != "status" {
		return fmt.Errorf("unparseable status routing key %q", routingKey)
	}
	messageType, datatypeID, requestID := segments[1], segments[2], segments[4]

	var body statusBody
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("unable to parse status message body: %w", err)
		}
	}

	status, url, err := resolveStatus(messageType, &body)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	repo := repository.NewMapRequestsRepository(tx, h.logger)

	mr, err := repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("unable to resolve map request %q: %w", requestID, err)
	}
	dt, err := repo.GetDataType(ctx, datatypeID)
	if err != nil {
		return fmt.Errorf("unable to resolve data type %q: %w", datatypeID, err)
	}

	updated, err := repo.SetLayerStatus(ctx, mr.ID, dt.ID, status, url)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if !updated {
		h.logger.Info("Layer already in terminal state, ignoring status message",
			zap.String("request_id", requestID),
			zap.String("datatype_id", datatypeID),
			zap.String("status", string(status)),
		)
		return nil
	}

	if h.feed != nil {
		h.feed.Publish(ctx, notify.ActivityMapRequestLayer, map[string]interface{}{
			"request_id":  requestID,
			"datatype_id": datatypeID,
			"status":      string(status),
		})
	}

	h.logger.Info("Updated map request layer status",
		zap.String("request_id", requestID),
		zap.String("datatype_id", datatypeID),
		zap.String("status", string(status)),
	)
	return nil
}

// resolveStatus maps the message type onto the state machine: start marks
// the layer PROCESSING, end resolves it to AVAILABLE or FAILED depending on
// the reported status code.
func resolveStatus(messageType string, body *statusBody) (domain.MapRequestStatus, string, error) {
	switch messageType {
	case messageTypeStart:
		return domain.MapRequestStatusProcessing, "", nil
	case messageTypeEnd:
		if body.StatusCode != http.StatusOK {
			return domain.MapRequestStatusFailed, "", nil
		}
		return domain.MapRequestStatusAvailable, body.URL, nil
	default:
		return "", "", fmt.Errorf("unknown status message type %q", messageType)
	}
}

// Publisher is the outbound slice of the bus the fan-out needs. It is
// satisfied by *rmq.Router.
type Publisher interface {
	Publish(payload interface{}, routingKey, correlationID string) error
}

// MapRequestFanout dispatches a created map request to the processing
// services, one message per requested data type.
type MapRequestFanout struct {
	db        *sql.DB
	publisher Publisher
	site      string
	logger    *zap.Logger
}

func NewMapRequestFanout(db *sql.DB, publisher Publisher, site string, logger *zap.Logger) *MapRequestFanout {
	return &MapRequestFanout{
		db:        db,
		publisher: publisher,
		site:      site,
		logger:    logger,
	}
}

// Invoke publishes one request message per data type on
// request/<datatype_id>/<site>/<request_id>, correlated by the request id.
func (f *MapRequestFanout) Invoke(ctx context.Context, mr *domain.MapRequest) error {
	repo := repository.NewMapRequestsRepository(f.db, f.logger)

	dataTypes, err := repo.DataTypesFor(ctx, mr.ID)
	if err != nil {
		return err
	}
	if len(dataTypes) == 0 {
		return fmt.Errorf("map request %s has no data types", mr.RequestID)
	}

	for _, dt := range dataTypes {
		body := map[string]interface{}{
			"request_id":  mr.RequestID,
			"datatype_id": dt.DatatypeID,
			"title":       mr.Title,
			"parameters":  mr.Parameters,
		}
		if mr.Geometry != nil {
			body["geometry"] = mr.Geometry
			body["geometry_wkt"] = mr.GeometryWKT
		}

		routingKey := fmt.Sprintf("request/%s/%s/%s", dt.DatatypeID, f.site, mr.RequestID)
		if err := f.publisher.Publish(body, routingKey, mr.RequestID); err != nil {
			return fmt.Errorf("unable to dispatch map request: %w", err)
		}

		f.logger.Info("Dispatched map request layer",
			zap.String("request_id", mr.RequestID),
			zap.String("datatype_id", dt.DatatypeID),
		)
	}
	return nil
}

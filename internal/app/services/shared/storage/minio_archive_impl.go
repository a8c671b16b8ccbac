package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/dto/workflow"
	"ipms-mediator/internal/pkg/exceptions"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectWriter is the part of the minio client the archive needs.
type ObjectWriter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioArchive struct {
	client     ObjectWriter
	bucketName string
	log        *zap.Logger
}

// NewMinioArchive keeps every outbound HL7 message together with the ACK it
// received, one object per exchange.
func NewMinioArchive(client ObjectWriter, bucketName string, logger *zap.Logger) contracts.MessageArchive {
	return &minioArchive{
		client:     client,
		bucketName: bucketName,
		log:        logger,
	}
}

type archivedExchange struct {
	TaskID      string    `json:"taskId,omitempty"`
	ControlID   string    `json:"controlId,omitempty"`
	MessageType string    `json:"messageType"`
	TargetHost  string    `json:"targetHost"`
	TargetPort  int       `json:"targetPort"`
	Message     string    `json:"message"`
	Ack         string    `json:"ack"`
	Accepted    bool      `json:"accepted"`
	SentAt      time.Time `json:"sentAt"`
}

func (m *minioArchive) StoreExchange(ctx context.Context, record workflow.ArchiveRecord) (string, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	name := record.ControlID
	if name == "" {
		name = uuid.NewString()
	}
	owner := record.TaskID
	if owner == "" {
		owner = "unassigned"
	}
	objectName := fmt.Sprintf(constvars.ArchiveObjectKeyFormat, record.SentAt.Format("2006/01/02"), owner, name)

	body, err := json.Marshal(archivedExchange(record))
	if err != nil {
		return "", exceptions.ErrCannotMarshalJSON(err)
	}

	_, err = m.client.PutObject(ctx, m.bucketName, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: constvars.MIMEApplicationJSON,
	})
	if err != nil {
		m.log.Error("minioArchive.StoreExchange error putting object",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingBucketKey, m.bucketName),
			zap.String(constvars.LoggingObjectKey, objectName),
			zap.Error(err),
		)
		return "", exceptions.ErrMinioCreateObject(err, m.bucketName)
	}

	return objectName, nil
}

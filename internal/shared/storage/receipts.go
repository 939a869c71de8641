package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// EmissionReceipt what was sent to and received from Datasul for one invoice.
type EmissionReceipt struct {
	CodSolicitacao int             `json:"codSolicitacao"`
	CodFornecedor  int             `json:"codFornecedor"`
	Itens          string          `json:"itens"`
	NumeroNF       string          `json:"numeroNF"`
	Usuario        string          `json:"usuario"`
	Reservas       []int           `json:"reservas"`
	EmitidoEm      time.Time       `json:"emitidoEm"`
	Response       json.RawMessage `json:"response,omitempty"`
	ResponseText   string          `json:"responseText,omitempty"`
}

// ReceiptArchive stores emission receipts in a MinIO bucket.
type ReceiptArchive struct {
	client *minio.Client
	bucket string
}

// NewReceiptArchive returns nil when no endpoint is configured.
func NewReceiptArchive(cfg Config) (*ReceiptArchive, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &ReceiptArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when missing.
func (a *ReceiptArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ArchiveEmission uploads the receipt as JSON and returns the object name.
func (a *ReceiptArchive) ArchiveEmission(ctx context.Context, receipt EmissionReceipt) (string, error) {
	data, err := MarshalReceipt(receipt)
	if err != nil {
		return "", err
	}
	objectName := ReceiptObjectName(receipt)
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}
	return objectName, nil
}

// ReceiptObjectName emissoes/<yyyy/mm/dd>/sol-<id>-nf-<numero>-<rand>.json
func ReceiptObjectName(r EmissionReceipt) string {
	return fmt.Sprintf("emissoes/%s/sol-%d-nf-%s-%s.json",
		r.EmitidoEm.Format("2006/01/02"), r.CodSolicitacao, r.NumeroNF, uuid.New().String()[:8])
}

// MarshalReceipt keeps a JSON upstream body as-is and stores anything else as text.
func MarshalReceipt(r EmissionReceipt) ([]byte, error) {
	if len(r.Response) > 0 && !json.Valid(r.Response) {
		r.ResponseText = string(r.Response)
		r.Response = nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal receipt: %w", err)
	}
	return data, nil
}

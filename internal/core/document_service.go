package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
	"nuvex-backend-go/internal/objectstore"
)

const defaultUploadTimeout = 60 * time.Second

// DocumentConfig holds the limits of the document service.
type DocumentConfig struct {
	MaxUploadBytes int64
	// ExternalCallTimeout bounds metadata calls; UploadTimeout bounds object transfers.
	ExternalCallTimeout time.Duration
	UploadTimeout       time.Duration
}

// documentService implements the DocumentService interface.
type documentService struct {
	documents db.DocumentRepository
	accounts  db.AccountRepository
	objects   ObjectStorage
	quota     QuotaService
	notifier  NotificationService
	cfg       DocumentConfig
	external  externalCaller
	transfers externalCaller
	logger    *zap.Logger
	now       func() time.Time
}

// NewDocumentService creates a new DocumentService. notifier may be nil.
func NewDocumentService(documents db.DocumentRepository, accounts db.AccountRepository, objects ObjectStorage, quota QuotaService, notifier NotificationService, cfg DocumentConfig, m *metrics.Metrics, logger *zap.Logger) DocumentService {
	if documents == nil || accounts == nil {
		panic("repositories cannot be nil for DocumentService")
	}
	if objects == nil {
		panic("ObjectStorage cannot be nil for DocumentService")
	}
	if quota == nil {
		panic("QuotaService cannot be nil for DocumentService")
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &documentService{
		documents: documents,
		accounts:  accounts,
		objects:   objects,
		quota:     quota,
		notifier:  notifier,
		cfg:       cfg,
		external:  newExternalCaller(cfg.ExternalCallTimeout, m),
		transfers: newExternalCaller(cfg.UploadTimeout, m),
		logger:    logger,
		now:       time.Now,
	}
}

// Upload stores a document for one of the account's clients. Storage is reserved
// before any bytes are written and released again if a later step fails, so the
// counter only keeps bytes that ended up in a saved document.
func (s *documentService) Upload(ctx context.Context, accountID string, req models.UploadDocumentRequest, body io.Reader) (*models.Document, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if s.cfg.MaxUploadBytes > 0 && req.Size > s.cfg.MaxUploadBytes {
		return nil, newValidationError("size", fmt.Sprintf("must be at most %d bytes", s.cfg.MaxUploadBytes))
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	var client *models.Client
	err = s.external.do(ctx, "firestore", "get_client", func(ctx context.Context) error {
		var err error
		client, err = s.documents.GetClient(ctx, accountID, req.ClientID)
		return err
	})
	if err != nil {
		return nil, notFoundAs(err, ErrClientNotFound)
	}

	if _, err := s.quota.Reserve(ctx, accountID, req.Size); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("account_id", accountID), zap.String("client_id", req.ClientID))

	var obj *objectstore.StoredObject
	err = s.transfers.do(ctx, "objectstore", "put", func(ctx context.Context) error {
		var err error
		obj, err = s.objects.Put(ctx, objectstore.PutInput{
			AccountID:   accountID,
			ClientID:    req.ClientID,
			Name:        req.DocumentName,
			ContentType: req.FileType,
			Size:        req.Size,
			Body:        body,
		})
		return err
	})
	if err != nil {
		s.compensate(ctx, accountID, req.Size, log)
		if errors.Is(err, objectstore.ErrUnsupportedType) {
			return nil, newValidationError("fileType", "is not supported")
		}
		return nil, err
	}

	doc := &models.Document{
		AccountID:      accountID,
		ClientID:       req.ClientID,
		ClientName:     client.FullName,
		DocumentName:   req.DocumentName,
		FileURL:        obj.URL,
		PreviewURL:     obj.PreviewURL,
		FileType:       req.FileType,
		Size:           req.Size,
		Checksum:       obj.Checksum,
		StorageBackend: obj.Backend,
		ObjectKey:      obj.Key,
		Tag:            req.Tag,
		DueDate:        dueDate,
		CreatedAt:      s.now().UTC(),
	}
	err = s.external.do(ctx, "firestore", "create_document", func(ctx context.Context) error {
		id, err := s.documents.Create(ctx, doc)
		doc.ID = id
		return err
	})
	if err != nil {
		if delErr := s.deleteObject(context.WithoutCancel(ctx), obj.Backend, obj.Key); delErr != nil {
			log.Warn("Failed to remove orphaned object", zap.String("object_key", obj.Key), zap.Error(delErr))
		}
		s.compensate(ctx, accountID, req.Size, log)
		return nil, err
	}

	log.Info("Document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("backend", doc.StorageBackend),
		zap.Int64("size", doc.Size))
	if s.notifier != nil {
		s.notifier.NotifyDocumentUploaded(accountID, doc)
	}
	return doc, nil
}

// Download resolves a fresh URL for the document and records the access.
func (s *documentService) Download(ctx context.Context, accountID, clientID, documentID string) (*DownloadResult, error) {
	doc, err := s.getDocument(ctx, accountID, clientID, documentID)
	if err != nil {
		return nil, err
	}

	var url string
	err = s.external.do(ctx, "objectstore", "download_url", func(ctx context.Context) error {
		var err error
		url, err = s.objects.DownloadURL(ctx, doc.StorageBackend, doc.ObjectKey, doc.FileURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	at := s.now().UTC()
	err = s.external.do(ctx, "firestore", "touch_document", func(ctx context.Context) error {
		return s.documents.TouchAccess(ctx, accountID, clientID, documentID, at)
	})
	if err != nil {
		s.logger.Warn("Failed to record document access",
			zap.String("account_id", accountID),
			zap.String("document_id", documentID),
			zap.Error(err))
	} else {
		doc.LastAccessedAt = &at
	}
	if s.notifier != nil {
		s.notifier.NotifyDocumentDownloaded(accountID, doc)
	}
	return &DownloadResult{URL: url, Document: doc}, nil
}

// Delete removes the document and gives its size back to the quota. A failure to
// delete the stored object is logged and does not stop the metadata delete. Once the
// metadata is gone the release runs detached from the request and its failure is
// only logged, since a retry would find no document to release.
func (s *documentService) Delete(ctx context.Context, accountID, clientID, documentID string) error {
	doc, err := s.getDocument(ctx, accountID, clientID, documentID)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("account_id", accountID), zap.String("document_id", documentID))

	if doc.ObjectKey != "" {
		if err := s.deleteObject(ctx, doc.StorageBackend, doc.ObjectKey); err != nil {
			log.Warn("Failed to delete stored object, removing metadata anyway",
				zap.String("object_key", doc.ObjectKey),
				zap.Error(err))
		}
	}

	err = s.external.do(ctx, "firestore", "delete_document", func(ctx context.Context) error {
		return s.documents.Delete(ctx, accountID, clientID, documentID)
	})
	if err != nil {
		return notFoundAs(err, ErrDocumentNotFound)
	}

	if _, err := s.quota.Release(context.WithoutCancel(ctx), accountID, doc.Size); err != nil {
		log.Error("Document deleted but storage release failed", zap.Int64("size", doc.Size), zap.Error(err))
		return nil
	}
	log.Info("Document deleted", zap.Int64("size", doc.Size))
	return nil
}

// StorageOverview lists every document of the account with its age in days and
// sends a storage alert when usage is near the limit.
func (s *documentService) StorageOverview(ctx context.Context, accountID string) (*StorageOverview, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}

	var docs []*models.Document
	err = s.external.do(ctx, "firestore", "list_documents", func(ctx context.Context) error {
		var err error
		docs, err = s.documents.ListByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	summaries := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, DocumentSummary{Document: d, DocumentAge: documentAge(now, d.CreatedAt)})
	}

	near, err := s.quota.CheckNearLimit(ctx, accountID)
	if err != nil {
		s.logger.Warn("Storage limit check failed", zap.String("account_id", accountID), zap.Error(err))
		near = isNearLimit(account.StorageUsed, s.quota.Limit())
	}
	return &StorageOverview{
		StorageUsed:  account.StorageUsed,
		StorageLimit: s.quota.Limit(),
		NearLimit:    near,
		Documents:    summaries,
	}, nil
}

func (s *documentService) getDocument(ctx context.Context, accountID, clientID, documentID string) (*models.Document, error) {
	var doc *models.Document
	err := s.external.do(ctx, "firestore", "get_document", func(ctx context.Context) error {
		var err error
		doc, err = s.documents.GetByID(ctx, accountID, clientID, documentID)
		return err
	})
	if err != nil {
		return nil, notFoundAs(err, ErrDocumentNotFound)
	}
	return doc, nil
}

func (s *documentService) deleteObject(ctx context.Context, backend, key string) error {
	return s.transfers.do(ctx, "objectstore", "delete", func(ctx context.Context) error {
		return s.objects.Delete(ctx, backend, key)
	})
}

// compensate gives back a reservation whose upload did not complete. It must run
// even when the request context is already cancelled.
func (s *documentService) compensate(ctx context.Context, accountID string, size int64, log *zap.Logger) {
	if _, err := s.quota.Release(context.WithoutCancel(ctx), accountID, size); err != nil {
		log.Error("Failed to release storage reservation", zap.Int64("size", size), zap.Error(err))
	}
}

// parseDueDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDueDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, newValidationError("dueDate", "must be a date in YYYY-MM-DD or RFC 3339 format")
}

// documentAge is the number of whole days since createdAt.
func documentAge(now, createdAt time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}

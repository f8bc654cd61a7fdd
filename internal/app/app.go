package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"signflow/internal/audit"
	"signflow/internal/domain"
	"signflow/internal/notify"
	"signflow/internal/otp"
	"signflow/internal/pdf"
	"signflow/internal/storage"
	"signflow/internal/store"
	"signflow/internal/token"
	"signflow/internal/util"
)

const defaultDownloadTTL = 15 * time.Minute

// Config wires the application's collaborators.
type Config struct {
	Store       store.Store
	Objects     storage.ObjectStore
	Tokens      *token.Service
	OTP         *otp.Challenge
	Burner      pdf.Burner
	Notifier    notify.Notifier
	SignBaseURL string
	DownloadTTL time.Duration
}

// App drives the signer chain: it owns every status transition for
// documents and signers and emits the audit trail alongside.
type App struct {
	store       store.Store
	objects     storage.ObjectStore
	tokens      *token.Service
	otp         *otp.Challenge
	burner      pdf.Burner
	notifier    notify.Notifier
	ledger      *audit.Ledger
	signBaseURL string
	downloadTTL time.Duration
}

// New validates wiring and constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	if cfg.OTP == nil {
		return nil, errors.New("otp challenge is required")
	}
	if cfg.Burner == nil {
		return nil, errors.New("burner is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	signBaseURL := strings.TrimRight(strings.TrimSpace(cfg.SignBaseURL), "/")
	if signBaseURL == "" {
		return nil, errors.New("sign base URL is required")
	}
	downloadTTL := cfg.DownloadTTL
	if downloadTTL <= 0 {
		downloadTTL = defaultDownloadTTL
	}
	return &App{
		store:       cfg.Store,
		objects:     cfg.Objects,
		tokens:      cfg.Tokens,
		otp:         cfg.OTP,
		burner:      cfg.Burner,
		notifier:    cfg.Notifier,
		ledger:      audit.NewLedger(cfg.Store),
		signBaseURL: signBaseURL,
		downloadTTL: downloadTTL,
	}, nil
}

// PlaceholderInput is one field definition from the sender.
type PlaceholderInput struct {
	SignerEmail string  `json:"signerEmail"`
	Page        int     `json:"page"`
	XPercent    float64 `json:"xPercent"`
	YPercent    float64 `json:"yPercent"`
	WPercent    float64 `json:"wPercent"`
	HPercent    float64 `json:"hPercent"`
	Kind        string  `json:"kind,omitempty"`
}

// SignerInput is one entry of the ordered signer list.
type SignerInput struct {
	Email    string `json:"email"`
	Priority int    `json:"priority"`
}

// SignatureInput is one captured image filling a placeholder.
type SignatureInput struct {
	PlaceholderID string `json:"placeholderId"`
	Image         []byte `json:"image"`
}

// LinkInfo is returned to a signer visiting their magic link.
type LinkInfo struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	SignerEmail  string `json:"signerEmail"`
	OTPSent      bool   `json:"otpSent"`
}

// SessionInfo is the signing-session working set.
type SessionInfo struct {
	DocumentID   string               `json:"documentId"`
	DocumentName string               `json:"documentName"`
	SignerEmail  string               `json:"signerEmail"`
	Placeholders []domain.Placeholder `json:"placeholders"`
	DocumentURL  string               `json:"documentUrl"`
}

// SubmitResult reports the outcome of a submission.
type SubmitResult struct {
	SignerStatus   domain.SignerStatus   `json:"signerStatus"`
	DocumentStatus domain.DocumentStatus `json:"documentStatus"`
}

// CreateDocument validates and stores an uploaded PDF as a draft.
func (a *App) CreateDocument(ctx context.Context, senderID, senderEmail, name, category string, data []byte) (domain.Document, error) {
	senderID = strings.TrimSpace(senderID)
	name = strings.TrimSpace(name)
	if senderID == "" || name == "" {
		return domain.Document{}, fmt.Errorf("%w: sender and document name are required", ErrValidation)
	}
	senderEmail, err := normalizeEmail(senderEmail)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	pages, err := pdf.PageCount(data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: upload is not a valid pdf", ErrValidation)
	}
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          util.NewID(),
		SenderID:    senderID,
		SenderEmail: senderEmail,
		Name:        name,
		Category:    strings.TrimSpace(category),
		PageCount:   pages,
		Status:      domain.DocumentDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc.StorageKey = "documents/" + doc.ID + ".pdf"
	if err := a.objects.Put(ctx, doc.StorageKey, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return domain.Document{}, fmt.Errorf("store document bytes: %w", err)
	}
	if err := a.store.CreateDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	a.ledger.Record(doc.ID, "", senderEmail, audit.EventDocumentCreated, map[string]string{
		"name":  doc.Name,
		"pages": fmt.Sprintf("%d", pages),
	})
	return doc, nil
}

// ListDocuments returns the sender's documents.
func (a *App) ListDocuments(_ context.Context, senderID string) ([]domain.Document, error) {
	return a.store.ListDocumentsBySender(senderID)
}

// DocumentDetail returns a document with its signer chain.
func (a *App) DocumentDetail(_ context.Context, senderID, documentID string) (domain.Document, []domain.Signer, error) {
	doc, err := a.ownedDocument(senderID, documentID)
	if err != nil {
		return domain.Document{}, nil, err
	}
	signers, err := a.store.ListSigners(doc.ID)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("list signers: %w", err)
	}
	return doc, signers, nil
}

// SetPlaceholders replaces the document's placeholder set wholesale.
// Only drafts can be edited.
func (a *App) SetPlaceholders(_ context.Context, senderID, documentID string, inputs []PlaceholderInput) ([]domain.Placeholder, error) {
	doc, err := a.ownedDocument(senderID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.DocumentDraft {
		return nil, ErrInvalidStatus
	}
	placeholders := make([]domain.Placeholder, 0, len(inputs))
	for i, in := range inputs {
		email, err := normalizeEmail(in.SignerEmail)
		if err != nil {
			return nil, fmt.Errorf("%w: placeholder %d: %v", ErrValidation, i, err)
		}
		if in.Page < 1 || in.Page > doc.PageCount {
			return nil, fmt.Errorf("%w: placeholder %d targets page %d of %d", ErrValidation, i, in.Page, doc.PageCount)
		}
		if in.WPercent <= 0 || in.HPercent <= 0 ||
			in.XPercent < 0 || in.YPercent < 0 ||
			in.XPercent+in.WPercent > 100 || in.YPercent+in.HPercent > 100 {
			return nil, fmt.Errorf("%w: placeholder %d geometry out of bounds", ErrValidation, i)
		}
		kind, ok := parsePlaceholderKind(in.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: placeholder %d has unknown kind %q", ErrValidation, i, in.Kind)
		}
		placeholders = append(placeholders, domain.Placeholder{
			ID:          util.NewID(),
			DocumentID:  doc.ID,
			SignerEmail: email,
			Page:        in.Page,
			XPercent:    in.XPercent,
			YPercent:    in.YPercent,
			WPercent:    in.WPercent,
			HPercent:    in.HPercent,
			Kind:        kind,
		})
	}
	if err := a.store.ReplacePlaceholders(doc.ID, placeholders); err != nil {
		return nil, fmt.Errorf("replace placeholders: %w", err)
	}
	return placeholders, nil
}

// Send initializes the signer chain: every signer is created pending,
// the lowest priority is promoted with a fresh magic-link token, and
// the document moves to sent. Notifications are best-effort.
func (a *App) Send(ctx context.Context, senderID, documentID string, inputs []SignerInput) (domain.Document, error) {
	doc, err := a.ownedDocument(senderID, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status != domain.DocumentDraft {
		return domain.Document{}, ErrInvalidStatus
	}
	signers, err := buildChain(doc.ID, inputs)
	if err != nil {
		return domain.Document{}, err
	}
	placeholders, err := a.store.ListPlaceholders(doc.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("list placeholders: %w", err)
	}
	if err := validateAssignments(placeholders, signers); err != nil {
		return domain.Document{}, err
	}

	if err := a.store.CreateSigners(signers); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Document{}, fmt.Errorf("%w: duplicate signer email or priority", ErrValidation)
		}
		return domain.Document{}, fmt.Errorf("create signers: %w", err)
	}

	first := signers[0]
	magicLink, err := a.tokens.IssueMagicLink(first.ID, doc.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("issue magic link: %w", err)
	}
	promoted, err := a.store.PromoteSigner(first.ID, token.Hash(magicLink))
	if err != nil {
		return domain.Document{}, fmt.Errorf("promote first signer: %w", err)
	}
	if !promoted {
		return domain.Document{}, ErrInvalidStatus
	}
	moved, err := a.store.SetDocumentStatus(doc.ID, []domain.DocumentStatus{domain.DocumentDraft}, domain.DocumentSent)
	if err != nil {
		return domain.Document{}, fmt.Errorf("mark document sent: %w", err)
	}
	if !moved {
		return domain.Document{}, ErrInvalidStatus
	}
	doc.Status = domain.DocumentSent

	a.ledger.Record(doc.ID, "", doc.SenderEmail, audit.EventDocumentSent, map[string]string{
		"signers": fmt.Sprintf("%d", len(signers)),
	})

	a.deliver(ctx, doc, first.ID, notify.Message{
		Kind:          notify.KindSignRequest,
		To:            first.Email,
		DocumentID:    doc.ID,
		DocumentName:  doc.Name,
		SigningLink:   a.signingLink(magicLink),
		QueuePosition: 1,
		QueueTotal:    len(signers),
	})
	a.ledger.Record(doc.ID, first.ID, first.Email, audit.EventNextSignerNotified, nil)

	a.broadcast(ctx, doc, signers[1:], func(s domain.Signer, i int) notify.Message {
		return notify.Message{
			Kind:          notify.KindQueuePosition,
			To:            s.Email,
			DocumentID:    doc.ID,
			DocumentName:  doc.Name,
			QueuePosition: i + 2,
			QueueTotal:    len(signers),
		}
	})
	return doc, nil
}

// OpenLink handles a magic-link visit: verifies the token, enforces the
// signer's turn and issues a one-time code.
func (a *App) OpenLink(ctx context.Context, rawToken string) (LinkInfo, error) {
	signer, doc, err := a.authMagic(rawToken)
	if err != nil {
		return LinkInfo{}, err
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventLinkOpened, nil)

	otpSent := false
	code, err := a.otp.Issue(ctx, signer.ID)
	switch {
	case err == nil:
		a.deliver(ctx, doc, signer.ID, notify.Message{
			Kind:         notify.KindOTPCode,
			To:           signer.Email,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			OTPCode:      code,
		})
		a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventOTPSent, nil)
		otpSent = true
	case errors.Is(err, otp.ErrResendLimited):
		// A fresh code went out moments ago; the visit still succeeds.
	default:
		return LinkInfo{}, fmt.Errorf("issue otp: %w", err)
	}
	return LinkInfo{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		SignerEmail:  signer.Email,
		OTPSent:      otpSent,
	}, nil
}

// ResendOTP issues a fresh code for the awaiting signer. The resend
// cooldown error surfaces to the caller.
func (a *App) ResendOTP(ctx context.Context, rawToken string) error {
	signer, doc, err := a.authMagic(rawToken)
	if err != nil {
		return err
	}
	code, err := a.otp.Issue(ctx, signer.ID)
	if err != nil {
		return err
	}
	a.deliver(ctx, doc, signer.ID, notify.Message{
		Kind:         notify.KindOTPCode,
		To:           signer.Email,
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		OTPCode:      code,
	})
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventOTPSent, nil)
	return nil
}

// VerifyOTP checks a submitted code and mints the signing-session token.
func (a *App) VerifyOTP(ctx context.Context, rawToken, code string) (string, error) {
	signer, doc, err := a.authMagic(rawToken)
	if err != nil {
		return "", err
	}
	verifyErr := a.otp.Verify(ctx, signer.ID, code)
	if verifyErr == nil {
		a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventOTPVerified, nil)
		session, err := a.tokens.IssueSession(signer.ID, doc.ID)
		if err != nil {
			return "", fmt.Errorf("issue session token: %w", err)
		}
		return session, nil
	}

	meta := map[string]string{"reason": failureReason(verifyErr)}
	var invalid *otp.InvalidCodeError
	if errors.As(verifyErr, &invalid) {
		meta["remaining"] = fmt.Sprintf("%d", invalid.Remaining)
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventOTPFailed, meta)
	if invalid != nil && invalid.JustLocked {
		a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventOTPLocked, nil)
	}
	return "", verifyErr
}

// SigningInfo returns the signer's placeholders and a time-boxed
// reference to the current PDF bytes.
func (a *App) SigningInfo(ctx context.Context, sessionToken string) (SessionInfo, error) {
	signer, doc, err := a.authSession(sessionToken)
	if err != nil {
		return SessionInfo{}, err
	}
	assigned, err := a.assignedPlaceholders(doc.ID, signer.Email)
	if err != nil {
		return SessionInfo{}, err
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.downloadTTL)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("presign document: %w", err)
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventPlaceholderViewed, map[string]string{
		"placeholders": fmt.Sprintf("%d", len(assigned)),
	})
	return SessionInfo{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		SignerEmail:  signer.Email,
		Placeholders: assigned,
		DocumentURL:  url,
	}, nil
}

// Sign accepts the signer's complete batch, burns it into the stored
// PDF and advances the chain. The burn happens against freshly
// downloaded bytes so earlier signers' marks are preserved, and the
// result overwrites the same storage key.
func (a *App) Sign(ctx context.Context, sessionToken string, inputs []SignatureInput) (SubmitResult, error) {
	signer, doc, err := a.authSession(sessionToken)
	if err != nil {
		return SubmitResult{}, err
	}
	assigned, err := a.assignedPlaceholders(doc.ID, signer.Email)
	if err != nil {
		return SubmitResult{}, err
	}
	placements, signatures, err := matchBatch(signer, assigned, inputs)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := a.store.SaveSignatures(signatures); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return SubmitResult{}, ErrAlreadySigned
		}
		return SubmitResult{}, fmt.Errorf("persist signatures: %w", err)
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventSignatureSubmitted, map[string]string{
		"signatures": fmt.Sprintf("%d", len(signatures)),
	})

	current, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("download document: %w", err)
	}
	burned, err := a.burner.Burn(ctx, current, placements)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("burn signatures: %w", err)
	}
	if err := a.objects.Put(ctx, doc.StorageKey, bytes.NewReader(burned), int64(len(burned)), "application/pdf"); err != nil {
		return SubmitResult{}, fmt.Errorf("upload burned document: %w", err)
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventPDFBurned, map[string]string{
		"bytes": fmt.Sprintf("%d", len(burned)),
	})

	signedAt := time.Now().UTC()
	won, err := a.store.MarkSignerSigned(signer.ID, signedAt)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("mark signer signed: %w", err)
	}
	if !won {
		// Another request for this signer already advanced the row.
		return SubmitResult{}, ErrAlreadySigned
	}
	if _, err := a.store.SetDocumentStatus(doc.ID, []domain.DocumentStatus{domain.DocumentSent}, domain.DocumentInProgress); err != nil {
		return SubmitResult{}, fmt.Errorf("mark document in progress: %w", err)
	}

	docStatus, err := a.advance(ctx, doc, signer)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{SignerStatus: domain.SignerSigned, DocumentStatus: docStatus}, nil
}

// Decline terminates the chain: the awaiting signer becomes declined,
// the document cancelled, and no further signer is ever promoted.
func (a *App) Decline(ctx context.Context, sessionToken string) (SubmitResult, error) {
	signer, doc, err := a.authSession(sessionToken)
	if err != nil {
		return SubmitResult{}, err
	}
	won, err := a.store.MarkSignerDeclined(signer.ID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("mark signer declined: %w", err)
	}
	if !won {
		// Lost the conditional write: another request moved this signer
		// first. Report the status the row actually landed in.
		current, found, err := a.store.GetSigner(signer.ID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("reload signer: %w", err)
		}
		if !found {
			return SubmitResult{}, ErrNotFound
		}
		if turnErr := checkTurn(current); turnErr != nil {
			return SubmitResult{}, turnErr
		}
		return SubmitResult{}, ErrInvalidStatus
	}
	if _, err := a.store.SetDocumentStatus(doc.ID, []domain.DocumentStatus{domain.DocumentSent, domain.DocumentInProgress}, domain.DocumentCancelled); err != nil {
		return SubmitResult{}, fmt.Errorf("cancel document: %w", err)
	}
	a.ledger.Record(doc.ID, signer.ID, signer.Email, audit.EventSignerDeclined, nil)
	a.deliver(ctx, doc, signer.ID, notify.Message{
		Kind:         notify.KindDeclined,
		To:           doc.SenderEmail,
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		DeclinedBy:   signer.Email,
	})
	return SubmitResult{SignerStatus: domain.SignerDeclined, DocumentStatus: domain.DocumentCancelled}, nil
}

// AuditTrail returns the document's event history in timestamp order.
func (a *App) AuditTrail(_ context.Context, senderID, documentID string) ([]domain.AuditEvent, error) {
	doc, err := a.ownedDocument(senderID, documentID)
	if err != nil {
		return nil, err
	}
	return a.store.ListAudit(doc.ID)
}

// DownloadLink returns a time-boxed URL for the current document bytes.
func (a *App) DownloadLink(ctx context.Context, senderID, documentID string) (string, error) {
	doc, err := a.ownedDocument(senderID, documentID)
	if err != nil {
		return "", err
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.downloadTTL)
	if err != nil {
		return "", fmt.Errorf("presign document: %w", err)
	}
	a.ledger.Record(doc.ID, "", doc.SenderEmail, audit.EventDocumentDownloaded, nil)
	return url, nil
}

// advance promotes the next pending signer or completes the document.
func (a *App) advance(ctx context.Context, doc domain.Document, justSigned domain.Signer) (domain.DocumentStatus, error) {
	signers, err := a.store.ListSigners(doc.ID)
	if err != nil {
		return "", fmt.Errorf("list signers: %w", err)
	}
	var next *domain.Signer
	for i := range signers {
		if signers[i].Status == domain.SignerPending {
			next = &signers[i]
			break
		}
	}

	if next == nil {
		if _, err := a.store.SetDocumentStatus(doc.ID, []domain.DocumentStatus{domain.DocumentSent, domain.DocumentInProgress}, domain.DocumentCompleted); err != nil {
			return "", fmt.Errorf("complete document: %w", err)
		}
		a.ledger.Record(doc.ID, "", justSigned.Email, audit.EventDocumentCompleted, nil)
		url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.downloadTTL)
		if err != nil {
			slog.Warn("presign completed document failed", "document_id", doc.ID, "err", err)
		}
		recipients := []domain.Signer{{ID: "", Email: doc.SenderEmail}}
		recipients = append(recipients, signers...)
		a.broadcast(ctx, doc, recipients, func(s domain.Signer, _ int) notify.Message {
			return notify.Message{
				Kind:         notify.KindCompleted,
				To:           s.Email,
				DocumentID:   doc.ID,
				DocumentName: doc.Name,
				DownloadURL:  url,
			}
		})
		return domain.DocumentCompleted, nil
	}

	magicLink, err := a.tokens.IssueMagicLink(next.ID, doc.ID)
	if err != nil {
		return "", fmt.Errorf("issue magic link: %w", err)
	}
	promoted, err := a.store.PromoteSigner(next.ID, token.Hash(magicLink))
	if err != nil {
		return "", fmt.Errorf("promote next signer: %w", err)
	}
	if !promoted {
		// Someone else already promoted this signer; their token stands.
		slog.Warn("next signer already promoted", "document_id", doc.ID, "signer_id", next.ID)
		return domain.DocumentInProgress, nil
	}

	position := 0
	for i := range signers {
		if signers[i].ID == next.ID {
			position = i + 1
			break
		}
	}
	a.deliver(ctx, doc, next.ID, notify.Message{
		Kind:          notify.KindSignRequest,
		To:            next.Email,
		DocumentID:    doc.ID,
		DocumentName:  doc.Name,
		SigningLink:   a.signingLink(magicLink),
		QueuePosition: position,
		QueueTotal:    len(signers),
	})
	a.ledger.Record(doc.ID, next.ID, next.Email, audit.EventNextSignerNotified, nil)

	var waiting []domain.Signer
	for _, s := range signers {
		if s.Status == domain.SignerPending && s.ID != next.ID {
			waiting = append(waiting, s)
		}
	}
	a.broadcast(ctx, doc, waiting, func(s domain.Signer, _ int) notify.Message {
		return notify.Message{
			Kind:         notify.KindProgress,
			To:           s.Email,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			SignedBy:     justSigned.Email,
		}
	})
	return domain.DocumentInProgress, nil
}

// authMagic verifies a magic-link token end to end: signature/expiry,
// hash against the stored value, the signer's turn, and document state.
func (a *App) authMagic(rawToken string) (domain.Signer, domain.Document, error) {
	claims, err := a.tokens.Verify(rawToken, token.TypeMagicLink)
	if err != nil {
		return domain.Signer{}, domain.Document{}, err
	}
	signer, found, err := a.store.GetSigner(claims.SignerID)
	if err != nil {
		return domain.Signer{}, domain.Document{}, fmt.Errorf("load signer: %w", err)
	}
	if !found || signer.DocumentID != claims.DocumentID {
		return domain.Signer{}, domain.Document{}, ErrNotFound
	}
	if signer.TokenHash == "" || signer.TokenHash != token.Hash(rawToken) {
		// A newer link was issued; this one is dead.
		return domain.Signer{}, domain.Document{}, token.ErrInvalidToken
	}
	if err := checkTurn(signer); err != nil {
		return domain.Signer{}, domain.Document{}, err
	}
	doc, found, err := a.store.GetDocument(signer.DocumentID)
	if err != nil {
		return domain.Signer{}, domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !found {
		return domain.Signer{}, domain.Document{}, ErrNotFound
	}
	if doc.Status != domain.DocumentSent && doc.Status != domain.DocumentInProgress {
		return domain.Signer{}, domain.Document{}, ErrInvalidStatus
	}
	return signer, doc, nil
}

// authSession verifies a signing-session bearer token. Session tokens
// are never persisted, so there is no hash comparison; turn enforcement
// still applies on every call.
func (a *App) authSession(rawToken string) (domain.Signer, domain.Document, error) {
	claims, err := a.tokens.Verify(rawToken, token.TypeSigningSession)
	if err != nil {
		return domain.Signer{}, domain.Document{}, err
	}
	signer, found, err := a.store.GetSigner(claims.SignerID)
	if err != nil {
		return domain.Signer{}, domain.Document{}, fmt.Errorf("load signer: %w", err)
	}
	if !found || signer.DocumentID != claims.DocumentID {
		return domain.Signer{}, domain.Document{}, ErrNotFound
	}
	if err := checkTurn(signer); err != nil {
		return domain.Signer{}, domain.Document{}, err
	}
	doc, found, err := a.store.GetDocument(signer.DocumentID)
	if err != nil {
		return domain.Signer{}, domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !found {
		return domain.Signer{}, domain.Document{}, ErrNotFound
	}
	if doc.Status != domain.DocumentSent && doc.Status != domain.DocumentInProgress {
		return domain.Signer{}, domain.Document{}, ErrInvalidStatus
	}
	return signer, doc, nil
}

func (a *App) ownedDocument(senderID, documentID string) (domain.Document, error) {
	doc, found, err := a.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !found {
		return domain.Document{}, ErrNotFound
	}
	if doc.SenderID != senderID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

func (a *App) assignedPlaceholders(documentID, signerEmail string) ([]domain.Placeholder, error) {
	all, err := a.store.ListPlaceholders(documentID)
	if err != nil {
		return nil, fmt.Errorf("list placeholders: %w", err)
	}
	assigned := make([]domain.Placeholder, 0, len(all))
	for _, p := range all {
		if p.SignerEmail == signerEmail {
			assigned = append(assigned, p)
		}
	}
	return assigned, nil
}

// deliver sends one notification and audits the outcome. Delivery
// failure never propagates: the transition that triggered it stands.
func (a *App) deliver(ctx context.Context, doc domain.Document, signerID string, msg notify.Message) {
	if err := a.notifier.Send(ctx, msg); err != nil {
		slog.Warn("notification failed", "kind", msg.Kind, "to", msg.To, "document_id", doc.ID, "err", err)
		a.ledger.Record(doc.ID, signerID, msg.To, audit.EventEmailFailed, map[string]string{
			"kind":  string(msg.Kind),
			"error": err.Error(),
		})
		return
	}
	a.ledger.Record(doc.ID, signerID, msg.To, audit.EventEmailDelivered, map[string]string{
		"kind": string(msg.Kind),
	})
}

// broadcast fans deliveries out concurrently.
func (a *App) broadcast(ctx context.Context, doc domain.Document, recipients []domain.Signer, build func(domain.Signer, int) notify.Message) {
	g, ctx := errgroup.WithContext(ctx)
	for i, s := range recipients {
		g.Go(func() error {
			a.deliver(ctx, doc, s.ID, build(s, i))
			return nil
		})
	}
	_ = g.Wait()
}

func (a *App) signingLink(magicToken string) string {
	return a.signBaseURL + "/" + magicToken
}

func checkTurn(s domain.Signer) error {
	switch s.Status {
	case domain.SignerAwaitingTurn:
		return nil
	case domain.SignerPending:
		return ErrNotYourTurn
	case domain.SignerSigned:
		return ErrAlreadySigned
	case domain.SignerDeclined:
		return ErrDeclined
	default:
		return ErrInvalidStatus
	}
}

// buildChain validates the ordered signer list and materializes rows.
func buildChain(documentID string, inputs []SignerInput) ([]domain.Signer, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one signer is required", ErrValidation)
	}
	now := time.Now().UTC()
	seenEmail := make(map[string]struct{}, len(inputs))
	seenPriority := make(map[int]struct{}, len(inputs))
	signers := make([]domain.Signer, 0, len(inputs))
	for i, in := range inputs {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: signer %d: %v", ErrValidation, i, err)
		}
		if _, dup := seenEmail[email]; dup {
			return nil, fmt.Errorf("%w: duplicate signer email %s", ErrValidation, email)
		}
		if in.Priority < 1 {
			return nil, fmt.Errorf("%w: signer %s priority must be >= 1", ErrValidation, email)
		}
		if _, dup := seenPriority[in.Priority]; dup {
			return nil, fmt.Errorf("%w: duplicate signer priority %d", ErrValidation, in.Priority)
		}
		seenEmail[email] = struct{}{}
		seenPriority[in.Priority] = struct{}{}
		signers = append(signers, domain.Signer{
			ID:         util.NewID(),
			DocumentID: documentID,
			Email:      email,
			Priority:   in.Priority,
			Status:     domain.SignerPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	sort.Slice(signers, func(i, j int) bool { return signers[i].Priority < signers[j].Priority })
	return signers, nil
}

// validateAssignments requires at least one placeholder, every
// placeholder assigned to a chain member, and every signer having
// something to sign.
func validateAssignments(placeholders []domain.Placeholder, signers []domain.Signer) error {
	if len(placeholders) == 0 {
		return fmt.Errorf("%w: document has no placeholders", ErrValidation)
	}
	emails := make(map[string]bool, len(signers))
	for _, s := range signers {
		emails[s.Email] = false
	}
	for _, p := range placeholders {
		if _, ok := emails[p.SignerEmail]; !ok {
			return fmt.Errorf("%w: placeholder assigned to unknown signer %s", ErrValidation, p.SignerEmail)
		}
		emails[p.SignerEmail] = true
	}
	for email, hasField := range emails {
		if !hasField {
			return fmt.Errorf("%w: signer %s has no placeholders", ErrValidation, email)
		}
	}
	return nil
}

// matchBatch requires the submission to cover every assigned
// placeholder exactly once, with a non-empty image each.
func matchBatch(signer domain.Signer, assigned []domain.Placeholder, inputs []SignatureInput) ([]pdf.Placement, []domain.Signature, error) {
	if len(inputs) != len(assigned) {
		return nil, nil, ErrIncompleteBatch
	}
	byID := make(map[string]domain.Placeholder, len(assigned))
	for _, p := range assigned {
		byID[p.ID] = p
	}
	seen := make(map[string]struct{}, len(inputs))
	now := time.Now().UTC()
	placements := make([]pdf.Placement, 0, len(inputs))
	signatures := make([]domain.Signature, 0, len(inputs))
	for _, in := range inputs {
		p, ok := byID[in.PlaceholderID]
		if !ok {
			return nil, nil, ErrIncompleteBatch
		}
		if _, dup := seen[in.PlaceholderID]; dup {
			return nil, nil, ErrIncompleteBatch
		}
		if len(in.Image) == 0 {
			return nil, nil, ErrIncompleteBatch
		}
		seen[in.PlaceholderID] = struct{}{}
		placements = append(placements, pdf.Placement{Placeholder: p, Image: in.Image})
		signatures = append(signatures, domain.Signature{
			ID:            util.NewID(),
			PlaceholderID: p.ID,
			SignerID:      signer.ID,
			Image:         in.Image,
			CreatedAt:     now,
		})
	}
	return placements, signatures, nil
}

func parsePlaceholderKind(raw string) (domain.PlaceholderKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return domain.KindSignature, true
	case string(domain.KindSignature):
		return domain.KindSignature, true
	case string(domain.KindName):
		return domain.KindName, true
	case string(domain.KindTitle):
		return domain.KindTitle, true
	case string(domain.KindDesignation):
		return domain.KindDesignation, true
	case string(domain.KindDate):
		return domain.KindDate, true
	default:
		return "", false
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, otp.ErrNotFound):
		return "otp_not_found"
	case errors.Is(err, otp.ErrExpired):
		return "otp_expired"
	case errors.Is(err, otp.ErrLocked):
		return "otp_locked"
	case errors.Is(err, otp.ErrMalformedCode):
		return "malformed"
	default:
		return "invalid_otp"
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("email %q is invalid", email)
	}
	return email, nil
}

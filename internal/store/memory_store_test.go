package store

import (
	"errors"
	"testing"
	"time"

	"signflow/internal/domain"
)

func seedDocument(t *testing.T, m *MemoryStore, status domain.DocumentStatus) domain.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := domain.Document{
		ID:          "doc-1",
		SenderID:    "sender-1",
		SenderEmail: "sender@example.com",
		Name:        "lease",
		StorageKey:  "documents/doc-1.pdf",
		PageCount:   3,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func seedSigner(t *testing.T, m *MemoryStore, id string, priority int, status domain.SignerStatus) domain.Signer {
	t.Helper()
	now := time.Now().UTC()
	s := domain.Signer{
		ID:         id,
		DocumentID: "doc-1",
		Email:      id + "@example.com",
		Priority:   priority,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.CreateSigners([]domain.Signer{s}); err != nil {
		t.Fatalf("CreateSigners: %v", err)
	}
	return s
}

func TestSetDocumentStatusIsConditional(t *testing.T) {
	m := NewMemoryStore()
	seedDocument(t, m, domain.DocumentDraft)

	ok, err := m.SetDocumentStatus("doc-1", []domain.DocumentStatus{domain.DocumentDraft}, domain.DocumentSent)
	if err != nil || !ok {
		t.Fatalf("draft->sent = %v/%v, want win", ok, err)
	}
	// The same transition cannot win twice.
	ok, err = m.SetDocumentStatus("doc-1", []domain.DocumentStatus{domain.DocumentDraft}, domain.DocumentSent)
	if err != nil || ok {
		t.Fatalf("second draft->sent = %v/%v, want lose", ok, err)
	}
	// Multiple source states are accepted.
	ok, err = m.SetDocumentStatus("doc-1", []domain.DocumentStatus{domain.DocumentSent, domain.DocumentInProgress}, domain.DocumentCancelled)
	if err != nil || !ok {
		t.Fatalf("sent->cancelled = %v/%v, want win", ok, err)
	}
}

func TestPromoteSignerOnlyFromPending(t *testing.T) {
	m := NewMemoryStore()
	seedDocument(t, m, domain.DocumentSent)
	seedSigner(t, m, "s1", 1, domain.SignerPending)

	ok, err := m.PromoteSigner("s1", "hash-1")
	if err != nil || !ok {
		t.Fatalf("promote = %v/%v, want win", ok, err)
	}
	s, found, _ := m.GetSigner("s1")
	if !found || s.Status != domain.SignerAwaitingTurn || s.TokenHash != "hash-1" {
		t.Errorf("signer after promote = %+v", s)
	}
	// Promoting again loses and must not replace the token hash.
	ok, err = m.PromoteSigner("s1", "hash-2")
	if err != nil || ok {
		t.Fatalf("second promote = %v/%v, want lose", ok, err)
	}
	s, _, _ = m.GetSigner("s1")
	if s.TokenHash != "hash-1" {
		t.Errorf("token hash overwritten to %q", s.TokenHash)
	}
}

func TestMarkSignerSignedIsConditional(t *testing.T) {
	m := NewMemoryStore()
	seedDocument(t, m, domain.DocumentSent)
	seedSigner(t, m, "s1", 1, domain.SignerAwaitingTurn)

	at := time.Now().UTC()
	ok, err := m.MarkSignerSigned("s1", at)
	if err != nil || !ok {
		t.Fatalf("sign = %v/%v, want win", ok, err)
	}
	ok, err = m.MarkSignerSigned("s1", at)
	if err != nil || ok {
		t.Fatalf("replayed sign = %v/%v, want lose", ok, err)
	}
	ok, err = m.MarkSignerDeclined("s1")
	if err != nil || ok {
		t.Fatalf("decline after sign = %v/%v, want lose", ok, err)
	}
	s, _, _ := m.GetSigner("s1")
	if s.SignedAt == nil || s.Status != domain.SignerSigned {
		t.Errorf("signer after sign = %+v", s)
	}
}

func TestCreateSignersRejectsDuplicates(t *testing.T) {
	m := NewMemoryStore()
	seedDocument(t, m, domain.DocumentDraft)
	seedSigner(t, m, "s1", 1, domain.SignerPending)

	now := time.Now().UTC()
	dupPriority := domain.Signer{ID: "s2", DocumentID: "doc-1", Email: "other@example.com", Priority: 1, Status: domain.SignerPending, CreatedAt: now, UpdatedAt: now}
	if err := m.CreateSigners([]domain.Signer{dupPriority}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate priority = %v, want ErrConflict", err)
	}
	dupEmail := domain.Signer{ID: "s3", DocumentID: "doc-1", Email: "s1@example.com", Priority: 2, Status: domain.SignerPending, CreatedAt: now, UpdatedAt: now}
	if err := m.CreateSigners([]domain.Signer{dupEmail}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email = %v, want ErrConflict", err)
	}
}

func TestSaveSignaturesRejectsDoubleFill(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	sig := domain.Signature{ID: "sig-1", PlaceholderID: "ph-1", SignerID: "s1", Image: []byte("img"), CreatedAt: now}
	if err := m.SaveSignatures([]domain.Signature{sig}); err != nil {
		t.Fatalf("SaveSignatures: %v", err)
	}
	again := domain.Signature{ID: "sig-2", PlaceholderID: "ph-1", SignerID: "s1", Image: []byte("img"), CreatedAt: now}
	if err := m.SaveSignatures([]domain.Signature{again}); !errors.Is(err, ErrConflict) {
		t.Errorf("double fill = %v, want ErrConflict", err)
	}
}

func TestReplacePlaceholdersIsWholesale(t *testing.T) {
	m := NewMemoryStore()
	seedDocument(t, m, domain.DocumentDraft)
	first := []domain.Placeholder{
		{ID: "ph-1", DocumentID: "doc-1", SignerEmail: "a@example.com", Page: 1, XPercent: 1, YPercent: 1, WPercent: 10, HPercent: 5},
		{ID: "ph-2", DocumentID: "doc-1", SignerEmail: "b@example.com", Page: 2, XPercent: 1, YPercent: 1, WPercent: 10, HPercent: 5},
	}
	if err := m.ReplacePlaceholders("doc-1", first); err != nil {
		t.Fatalf("ReplacePlaceholders: %v", err)
	}
	second := []domain.Placeholder{
		{ID: "ph-3", DocumentID: "doc-1", SignerEmail: "a@example.com", Page: 1, XPercent: 5, YPercent: 5, WPercent: 10, HPercent: 5},
	}
	if err := m.ReplacePlaceholders("doc-1", second); err != nil {
		t.Fatalf("ReplacePlaceholders again: %v", err)
	}
	got, err := m.ListPlaceholders("doc-1")
	if err != nil {
		t.Fatalf("ListPlaceholders: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ph-3" {
		t.Errorf("placeholders after replace = %+v, want only ph-3", got)
	}
}

func TestLatestUnusedOTPAndAttempts(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	old := domain.OTPRecord{ID: "otp-1", SignerID: "s1", CodeHash: "h1", ExpiresAt: now.Add(time.Minute), CreatedAt: now.Add(-time.Minute)}
	if err := m.CreateOTP(old); err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}
	fresh := domain.OTPRecord{ID: "otp-2", SignerID: "s1", CodeHash: "h2", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	if err := m.CreateOTP(fresh); err != nil {
		t.Fatalf("CreateOTP: %v", err)
	}

	rec, found, err := m.LatestUnusedOTP("s1")
	if err != nil || !found || rec.ID != "otp-2" {
		t.Fatalf("LatestUnusedOTP = %+v/%v/%v, want otp-2", rec, found, err)
	}
	attempts, err := m.IncrementOTPAttempts("otp-2")
	if err != nil || attempts != 1 {
		t.Errorf("attempts = %d/%v, want 1", attempts, err)
	}
	if err := m.MarkOTPUsed("otp-2"); err != nil {
		t.Fatalf("MarkOTPUsed: %v", err)
	}
	rec, found, err = m.LatestUnusedOTP("s1")
	if err != nil || !found || rec.ID != "otp-1" {
		t.Errorf("after use = %+v/%v/%v, want otp-1", rec, found, err)
	}
	if err := m.InvalidateOTPs("s1"); err != nil {
		t.Fatalf("InvalidateOTPs: %v", err)
	}
	if _, found, _ := m.LatestUnusedOTP("s1"); found {
		t.Error("unused record survives invalidation")
	}
}

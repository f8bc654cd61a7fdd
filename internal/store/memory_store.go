package store

import (
	"sort"
	"sync"
	"time"

	"signflow/internal/domain"
)

// MemoryStore keeps all state in-process. It mirrors GormStore
// semantics, including the compare-and-set transitions, and backs the
// test suites.
type MemoryStore struct {
	mu           sync.RWMutex
	documents    map[string]domain.Document
	signers      map[string]domain.Signer
	placeholders map[string][]domain.Placeholder // document ID -> set
	signatures   map[string]domain.Signature     // placeholder ID -> signature
	otps         map[string]domain.OTPRecord
	audit        map[string][]domain.AuditEvent // document ID -> events
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:    make(map[string]domain.Document),
		signers:      make(map[string]domain.Signer),
		placeholders: make(map[string][]domain.Placeholder),
		signatures:   make(map[string]domain.Signature),
		otps:         make(map[string]domain.OTPRecord),
		audit:        make(map[string][]domain.AuditEvent),
	}
}

func (m *MemoryStore) CreateDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return ErrConflict
	}
	m.documents[doc.ID] = doc
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	return doc, ok, nil
}

func (m *MemoryStore) ListDocumentsBySender(senderID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, doc := range m.documents {
		if doc.SenderID == senderID {
			res = append(res, doc)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) SetDocumentStatus(id string, from []domain.DocumentStatus, to domain.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if doc.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	doc.Status = to
	doc.UpdatedAt = time.Now().UTC()
	m.documents[id] = doc
	return true, nil
}

func (m *MemoryStore) CreateSigners(signers []domain.Signer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sg := range signers {
		for _, existing := range m.signers {
			if existing.DocumentID != sg.DocumentID {
				continue
			}
			if existing.Priority == sg.Priority || existing.Email == sg.Email {
				return ErrConflict
			}
		}
	}
	for _, sg := range signers {
		m.signers[sg.ID] = sg
	}
	return nil
}

func (m *MemoryStore) GetSigner(id string) (domain.Signer, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sg, ok := m.signers[id]
	return sg, ok, nil
}

func (m *MemoryStore) ListSigners(documentID string) ([]domain.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Signer, 0)
	for _, sg := range m.signers {
		if sg.DocumentID == documentID {
			res = append(res, sg)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Priority < res[j].Priority })
	return res, nil
}

func (m *MemoryStore) PromoteSigner(id, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sg, ok := m.signers[id]
	if !ok || sg.Status != domain.SignerPending {
		return false, nil
	}
	sg.Status = domain.SignerAwaitingTurn
	sg.TokenHash = tokenHash
	sg.UpdatedAt = time.Now().UTC()
	m.signers[id] = sg
	return true, nil
}

func (m *MemoryStore) MarkSignerSigned(id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sg, ok := m.signers[id]
	if !ok || sg.Status != domain.SignerAwaitingTurn {
		return false, nil
	}
	sg.Status = domain.SignerSigned
	sg.SignedAt = &at
	sg.UpdatedAt = time.Now().UTC()
	m.signers[id] = sg
	return true, nil
}

func (m *MemoryStore) MarkSignerDeclined(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sg, ok := m.signers[id]
	if !ok || sg.Status != domain.SignerAwaitingTurn {
		return false, nil
	}
	sg.Status = domain.SignerDeclined
	sg.UpdatedAt = time.Now().UTC()
	m.signers[id] = sg
	return true, nil
}

func (m *MemoryStore) ReplacePlaceholders(documentID string, placeholders []domain.Placeholder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	replacement := make([]domain.Placeholder, len(placeholders))
	copy(replacement, placeholders)
	m.placeholders[documentID] = replacement
	return nil
}

func (m *MemoryStore) ListPlaceholders(documentID string) ([]domain.Placeholder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.placeholders[documentID]
	res := make([]domain.Placeholder, len(set))
	copy(res, set)
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Page != res[j].Page {
			return res[i].Page < res[j].Page
		}
		return res[i].YPercent < res[j].YPercent
	})
	return res, nil
}

func (m *MemoryStore) SaveSignatures(signatures []domain.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sig := range signatures {
		if _, exists := m.signatures[sig.PlaceholderID]; exists {
			return ErrConflict
		}
	}
	for _, sig := range signatures {
		m.signatures[sig.PlaceholderID] = sig
	}
	return nil
}

func (m *MemoryStore) CreateOTP(rec domain.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[rec.ID] = rec
	return nil
}

func (m *MemoryStore) LatestUnusedOTP(signerID string) (domain.OTPRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.OTPRecord
	found := false
	for _, rec := range m.otps {
		if rec.SignerID != signerID || rec.Used {
			continue
		}
		if !found || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
			found = true
		}
	}
	return latest, found, nil
}

func (m *MemoryStore) InvalidateOTPs(signerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.otps {
		if rec.SignerID == signerID && !rec.Used {
			rec.Used = true
			m.otps[id] = rec
		}
	}
	return nil
}

func (m *MemoryStore) IncrementOTPAttempts(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.otps[id]
	if !ok {
		return 0, nil
	}
	rec.Attempts++
	m.otps[id] = rec
	return rec.Attempts, nil
}

func (m *MemoryStore) MarkOTPUsed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.otps[id]
	if !ok {
		return nil
	}
	rec.Used = true
	m.otps[id] = rec
	return nil
}

func (m *MemoryStore) AppendAudit(event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[event.DocumentID] = append(m.audit[event.DocumentID], event)
	return nil
}

func (m *MemoryStore) ListAudit(documentID string) ([]domain.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.audit[documentID]
	res := make([]domain.AuditEvent, len(events))
	copy(res, events)
	return res, nil
}

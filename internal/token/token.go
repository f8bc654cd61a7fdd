package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"signflow/internal/util"
)

// Token kinds. The type claim is a discriminant so one kind can never be
// presented in place of another.
const (
	TypeMagicLink      = "magic_link"
	TypeSigningSession = "signing_session"
	TypeAPIAccess      = "api_access"
)

const (
	defaultIssuer     = "signflow"
	defaultMagicTTL   = 7 * 24 * time.Hour
	defaultSessionTTL = time.Hour
	defaultAccessTTL  = 24 * time.Hour
	defaultLeeway     = 30 * time.Second
)

var (
	// ErrInvalidToken covers every non-expiry verification failure:
	// bad signature, malformed token, wrong type claim, missing ids.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is reported separately so callers can tell the
	// user to request a fresh link.
	ErrTokenExpired = errors.New("token expired")
)

// Claims carried by signing tokens.
type Claims struct {
	SignerID   string `json:"signerId,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	TokenType  string `json:"type"`
	jwt.RegisteredClaims
}

// Options tunes token lifetimes.
type Options struct {
	Issuer     string
	MagicTTL   time.Duration
	SessionTTL time.Duration
	AccessTTL  time.Duration
	Leeway     time.Duration
}

// Service issues and verifies HS256 signing tokens. It is stateless:
// a token is a pure function of the secret and its payload.
type Service struct {
	secret     []byte
	issuer     string
	magicTTL   time.Duration
	sessionTTL time.Duration
	accessTTL  time.Duration
	leeway     time.Duration
}

// NewService builds a token service from a shared secret.
func NewService(secret string, opts Options) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	magicTTL := opts.MagicTTL
	if magicTTL <= 0 {
		magicTTL = defaultMagicTTL
	}
	sessionTTL := opts.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	accessTTL := opts.AccessTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Service{
		secret:     []byte(secret),
		issuer:     issuer,
		magicTTL:   magicTTL,
		sessionTTL: sessionTTL,
		accessTTL:  accessTTL,
		leeway:     leeway,
	}, nil
}

// IssueMagicLink mints the long-lived token embedded in a signing link.
func (s *Service) IssueMagicLink(signerID, documentID string) (string, error) {
	return s.issue(TypeMagicLink, signerID, documentID, s.magicTTL)
}

// IssueSession mints the short-lived bearer token handed out after OTP success.
func (s *Service) IssueSession(signerID, documentID string) (string, error) {
	return s.issue(TypeSigningSession, signerID, documentID, s.sessionTTL)
}

// IssueAPIAccess mints a sender bearer token with the sender id as subject.
func (s *Service) IssueAPIAccess(senderID string) (string, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return "", errors.New("sender id is required")
	}
	now := time.Now().UTC()
	claims := Claims{
		TokenType: TypeAPIAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   senderID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        util.NewID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) issue(tokenType, signerID, documentID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(signerID) == "" || strings.TrimSpace(documentID) == "" {
		return "", errors.New("signer id and document id are required")
	}
	now := time.Now().UTC()
	claims := Claims{
		SignerID:   signerID,
		DocumentID: documentID,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   signerID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        util.NewID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates signature, expiry and issuer, and requires the token
// type to match wantType. Expired tokens return ErrTokenExpired; every
// other failure collapses into ErrInvalidToken.
func (s *Service) Verify(tokenStr, wantType string) (Claims, error) {
	claims := Claims{}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return claims, ErrInvalidToken
	}
	if !parsed.Valid {
		return claims, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return claims, ErrInvalidToken
	}
	if wantType == TypeAPIAccess {
		if strings.TrimSpace(claims.Subject) == "" {
			return claims, ErrInvalidToken
		}
		return claims, nil
	}
	if strings.TrimSpace(claims.SignerID) == "" || strings.TrimSpace(claims.DocumentID) == "" {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

// Hash returns the hex SHA-256 fingerprint stored on the signer row.
// Comparing a presented token's hash against the stored value lets a
// re-issued link invalidate the old one without a revocation list.
func Hash(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

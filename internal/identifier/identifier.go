// Package identifier classifies and resolves the three identifier spaces a
// proposal can be addressed by: the canonical public identifier (a 36-char
// UUID used in client-facing URLs), the integer surrogate key (used for every
// internal foreign key), and legacy human-readable labels from the old
// addressing scheme (migration path only).
//
// Tokens are parsed exactly once at the API boundary into an Identifier value
// and never re-interpreted deeper in the call stack. Callers that need a
// foreign-key value must go through Resolver.Resolve and use only the
// surrogate half of the result.
package identifier

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/models"
)

// Kind discriminates the identifier spaces.
type Kind int

const (
	// KindMalformed is a token matching none of the recognized formats.
	KindMalformed Kind = iota
	// KindPublic is a canonical 36-character public identifier.
	KindPublic
	// KindSurrogate is an all-numeric surrogate key (audit-facing only).
	KindSurrogate
	// KindLegacy is a human-readable label containing a recognized
	// event-type hint (migration path only, never accepted for audit lookups).
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindSurrogate:
		return "surrogate"
	case KindLegacy:
		return "legacy"
	default:
		return "malformed"
	}
}

// Identifier is the parsed form of a boundary token. Exactly one of the
// value fields is meaningful, selected by Kind.
type Identifier struct {
	Kind      Kind
	Public    uuid.UUID
	Surrogate int64
	Legacy    string
}

// legacyHints maps recognized legacy label substrings to the event type they
// imply. Matching is case-insensitive and first-match-wins in the order
// listed here.
var legacyHints = []struct {
	substr    string
	eventType models.EventType
}{
	{"school", models.EventTypeSchoolBased},
	{"community", models.EventTypeCommunityBased},
	{"corporate", models.EventTypeCorporate},
	{"company", models.EventTypeCorporate},
	{"workplace", models.EventTypeCorporate},
	{"virtual", models.EventTypeVirtual},
	{"online", models.EventTypeVirtual},
}

// Classify parses a boundary token into an Identifier.
//
// A token matching the canonical 36-character UUID format is Public; a token
// composed only of digits is Surrogate; a token containing a recognized
// event-type hint is Legacy; anything else is Malformed.
func Classify(token string) Identifier {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identifier{Kind: KindMalformed}
	}

	if len(token) == 36 {
		if id, err := uuid.Parse(token); err == nil {
			return Identifier{Kind: KindPublic, Public: id}
		}
	}

	if isAllDigits(token) {
		n, err := strconv.ParseInt(token, 10, 64)
		if err == nil && n > 0 {
			return Identifier{Kind: KindSurrogate, Surrogate: n}
		}
		return Identifier{Kind: KindMalformed}
	}

	if _, ok := InferEventType(token); ok {
		return Identifier{Kind: KindLegacy, Legacy: token}
	}

	return Identifier{Kind: KindMalformed}
}

// InferEventType returns the event type implied by a legacy label's hint
// keywords, or false when the label carries no recognized hint.
func InferEventType(label string) (models.EventType, bool) {
	lower := strings.ToLower(label)
	for _, h := range legacyHints {
		if strings.Contains(lower, h.substr) {
			return h.eventType, true
		}
	}
	return "", false
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ProposalLookup is the narrow read surface the resolver needs from the
// proposal repository.
type ProposalLookup interface {
	GetBySurrogateID(ctx context.Context, id int64) (*models.Proposal, error)
	GetByPublicID(ctx context.Context, id uuid.UUID) (*models.Proposal, error)
}

// Resolver converts boundary tokens into (surrogate, public) identifier
// pairs with exactly one repository lookup per call.
type Resolver struct {
	proposals ProposalLookup
}

// NewResolver creates a Resolver backed by the given proposal lookup.
func NewResolver(proposals ProposalLookup) *Resolver {
	return &Resolver{proposals: proposals}
}

// Resolve performs one lookup appropriate to the token's classification and
// returns the proposal's surrogate and public identifiers.
//
// Legacy labels are not resolvable here: they address drafts, not proposals,
// and fail with IdentifierFormatError so they can never leak into a
// surrogate-keyed query.
func (r *Resolver) Resolve(ctx context.Context, token string) (int64, uuid.UUID, error) {
	ident := Classify(token)
	switch ident.Kind {
	case KindPublic:
		p, err := r.proposals.GetByPublicID(ctx, ident.Public)
		if err != nil {
			return 0, uuid.Nil, err
		}
		if p == nil {
			return 0, uuid.Nil, apperr.New(apperr.KindNotFound, "no proposal with public id %s", ident.Public)
		}
		return p.SurrogateID, p.PublicID, nil
	case KindSurrogate:
		p, err := r.proposals.GetBySurrogateID(ctx, ident.Surrogate)
		if err != nil {
			return 0, uuid.Nil, err
		}
		if p == nil {
			return 0, uuid.Nil, apperr.New(apperr.KindNotFound, "no proposal with surrogate id %d", ident.Surrogate)
		}
		return p.SurrogateID, p.PublicID, nil
	case KindLegacy:
		return 0, uuid.Nil, apperr.New(apperr.KindIdentifierFormat,
			"legacy label %q cannot address a proposal; migrate it through the draft store", ident.Legacy)
	default:
		return 0, uuid.Nil, apperr.New(apperr.KindIdentifierFormat, "malformed identifier %q", token)
	}
}

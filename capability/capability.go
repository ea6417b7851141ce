// Package capability issues and verifies the signed capabilities
// CommitProtocol's schedule-delete hands to storage nodes: a scoped,
// time-limited grant naming an access kind, the issuing manager, and the
// fsid/path/id-list the grant applies to.
package capability

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/ceresfs/mgm/cmn"
)

type Access string

const (
	AccessDelete Access = "delete"
	AccessRead   Access = "read"
	AccessWrite  Access = "write"
)

// Claims is the JWT payload, grounded on the teacher's authn.Token shape
// (a registered-claims struct plus domain fields) but scoped to exactly
// what schedule-delete needs.
type Claims struct {
	jwt.RegisteredClaims
	Access      Access `json:"access"`
	Manager     string `json:"manager"`
	Fsid        int64  `json:"fsid"`
	LocalPrefix string `json:"local_prefix"`
	IDList      string `json:"id_list"`
}

// Issuer signs capabilities with a shared secret; a real deployment
// rotates this key the way authn does, out of scope here.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

func (i *Issuer) Issue(access Access, manager string, fsid int64, localPrefix, idList string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Access:      access,
		Manager:     manager,
		Fsid:        fsid,
		LocalPrefix: localPrefix,
		IDList:      idList,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, cmn.ErrPermissionDenied("capability verify failed: %v", err)
	}
	if !tok.Valid {
		return nil, cmn.ErrPermissionDenied("capability not valid")
	}
	return claims, nil
}

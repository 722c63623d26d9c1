package authscheme

import "encoding/base64"

// TokenValidationParameters describes how bearer token signatures and claims
// are checked for one scheme. Configure builds it from the scheme subtree; the
// invariants it guarantees are:
//
//   - ValidateIssuer is true exactly when ValidIssuers is non-empty, and
//     likewise for audience.
//   - ValidateIssuerSigningKey is always true, whether or not any keys
//     resolved.
//   - IssuerSigningKeys holds at most one key per entry in ValidIssuers.
//
// The legacy single-value ValidIssuer and ValidAudience fields are sourced
// independently of the lists and never derived from them.
type TokenValidationParameters struct {
	ValidateIssuer           bool
	ValidIssuers             []string
	ValidIssuer              string
	ValidateAudience         bool
	ValidAudiences           []string
	ValidAudience            string
	ValidateIssuerSigningKey bool
	IssuerSigningKeys        [][]byte
}

// Clone returns a deep copy safe for mutation by the caller.
func (p TokenValidationParameters) Clone() TokenValidationParameters {
	p.ValidIssuers = append([]string(nil), p.ValidIssuers...)
	p.ValidAudiences = append([]string(nil), p.ValidAudiences...)
	if p.IssuerSigningKeys != nil {
		keys := make([][]byte, len(p.IssuerSigningKeys))
		for i, k := range p.IssuerSigningKeys {
			keys[i] = append([]byte(nil), k...)
		}
		p.IssuerSigningKeys = keys
	}
	return p
}

// SigningKeyEntry pairs an issuer name with its base64-encoded symmetric key
// material, as carried by the SigningKeys configuration subsection.
type SigningKeyEntry struct {
	Issuer string
	Value  string
}

// ResolveSigningKeys resolves at most one signing key per issuer, in issuer
// order. For each issuer only the first candidate with a matching issuer name
// is considered: an empty value or no match contributes no key and no error,
// while a non-empty value that is not valid base64 fails the whole resolution
// with a KeyDecodeError.
func ResolveSigningKeys(issuers []string, candidates []SigningKeyEntry) ([][]byte, error) {
	keys := make([][]byte, 0, len(issuers))
	for _, iss := range issuers {
		for i := range candidates {
			if candidates[i].Issuer != iss {
				continue
			}
			if v := candidates[i].Value; v != "" {
				raw, err := base64.StdEncoding.DecodeString(v)
				if err != nil {
					return nil, &KeyDecodeError{Issuer: iss, Err: err}
				}
				keys = append(keys, raw)
			}
			break
		}
	}
	return keys, nil
}

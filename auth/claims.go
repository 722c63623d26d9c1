package auth

import "encoding/json"

// inboundClaimTypeMap renames well-known short JWT claim names to their long
// SOAP/WS-Fed claim URIs, for consumers that predate compact JWT claim names.
// Claims without an entry pass through unchanged.
var inboundClaimTypeMap = map[string]string{
	"sub":         "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
	"unique_name": "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
	"email":       "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	"given_name":  "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
	"family_name": "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
	"birthdate":   "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/dateofbirth",
	"website":     "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/webpage",
	"role":        "http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
	"roles":       "http://schemas.microsoft.com/ws/2008/06/identity/claims/role",
}

// mappedUserInfo applies inboundClaimTypeMap to the wrapped principal's
// claims. The subject accessor is unaffected.
type mappedUserInfo struct{ ui UserInfo }

func (u mappedUserInfo) UserID() string { return u.ui.UserID() }

func (u mappedUserInfo) Claims(ref any) error {
	var raw map[string]any
	if err := u.ui.Claims(&raw); err != nil {
		return err
	}
	mapped := make(map[string]any, len(raw))
	for k, v := range raw {
		if long, ok := inboundClaimTypeMap[k]; ok {
			mapped[long] = v
			continue
		}
		mapped[k] = v
	}
	return decodeClaims(mapped, ref)
}

func decodeClaims(claims map[string]any, ref any) error {
	b, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

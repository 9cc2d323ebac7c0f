package migrations

import "github.com/gravitee-io/apim-mongodb-indexes/manifest"

// the first manifest covers apis, applications, events, plans,
// subscriptions, keys, pages, memberships, roles, audits, rating,
// ratingAnswers and notifications
func init() {
	Register(1, "apim_indexes", manifest.V1())
}

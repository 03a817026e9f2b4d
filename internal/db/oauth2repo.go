package db

// OAuth2Repository composes OAuth2ClientRepo, OAuth2CodeRepo and
// OAuth2RefreshRepo into the single oauth2server.Repository the
// authorization server expects, so the three concerns can stay split
// across their own files (mirroring the one-table-per-file layout the
// rest of internal/db uses) while still satisfying one constructor.
type OAuth2Repository struct {
	*OAuth2ClientRepo
	*OAuth2CodeRepo
	*OAuth2RefreshRepo
}

func NewOAuth2Repository(d *DB) *OAuth2Repository {
	return &OAuth2Repository{
		OAuth2ClientRepo:  NewOAuth2ClientRepo(d),
		OAuth2CodeRepo:    NewOAuth2CodeRepo(d),
		OAuth2RefreshRepo: NewOAuth2RefreshRepo(d),
	}
}

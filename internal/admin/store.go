package admin

import (
	"database/sql"

	"github.com/dmitrijs2005/smartagro/internal/server/repositories/repomanager"
)

type storeHandle struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func (h *storeHandle) Close() error {
	return h.db.Close()
}

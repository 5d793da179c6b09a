// Package repository provides the data access layer for the wallet module
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinpulse/walletcore/pkg/models"
)

// WalletRepository implements durable storage access for accounts, wallets,
// positions, lots and the ledger. It is the only component that touches
// these tables.
type WalletRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *gorm.DB, logger *zap.Logger) *WalletRepository {
	return &WalletRepository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for transaction management
func (wr *WalletRepository) DB() *gorm.DB {
	return wr.db
}

// Account operations

// UpsertAccountInTx creates the user's account if absent and returns it.
// The unique index on user_id makes concurrent first-requests converge on a
// single row: the losing insert is a no-op and the follow-up read wins.
func (wr *WalletRepository) UpsertAccountInTx(ctx context.Context, dbTx *gorm.DB, userID uuid.UUID) (*models.Account, error) {
	account := &models.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Status:    models.AccountStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err := dbTx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return nil, err
	}

	var existing models.Account
	if err := dbTx.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetAccountByUserID retrieves the account for a user
func (wr *WalletRepository) GetAccountByUserID(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := wr.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AdjustCashInTx applies a signed delta to the account's available cash as a
// single conditional statement. For debits the row is updated only where
// available covers the debit, which removes the check-then-act race between
// reading the balance and writing it. Returns the number of rows affected;
// zero means insufficient funds (or a missing account).
func (wr *WalletRepository) AdjustCashInTx(ctx context.Context, dbTx *gorm.DB, accountID uuid.UUID, delta decimal.Decimal) (int64, error) {
	q := dbTx.WithContext(ctx).Model(&models.Account{})
	if delta.IsNegative() {
		q = q.Where("id = ? AND status = ? AND available >= ?", accountID, models.AccountStatusActive, delta.Neg())
	} else {
		q = q.Where("id = ? AND status = ?", accountID, models.AccountStatusActive)
	}
	res := q.Updates(map[string]interface{}{
		"available":  gorm.Expr("available + ?", delta),
		"updated_at": time.Now(),
	})
	return res.RowsAffected, res.Error
}

// LockCashInTx moves cash from available to locked, guarded by a conditional
// update on available
func (wr *WalletRepository) LockCashInTx(ctx context.Context, dbTx *gorm.DB, accountID uuid.UUID, amount decimal.Decimal) (int64, error) {
	res := dbTx.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND status = ? AND available >= ?", accountID, models.AccountStatusActive, amount).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available - ?", amount),
			"locked":     gorm.Expr("locked + ?", amount),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// UnlockCashInTx moves cash from locked back to available, guarded by a
// conditional update on locked
func (wr *WalletRepository) UnlockCashInTx(ctx context.Context, dbTx *gorm.DB, accountID uuid.UUID, amount decimal.Decimal) (int64, error) {
	res := dbTx.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND status = ? AND locked >= ?", accountID, models.AccountStatusActive, amount).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available + ?", amount),
			"locked":     gorm.Expr("locked - ?", amount),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// Wallet operations

// UpsertDefaultWalletInTx creates the account's default wallet if absent and
// returns it. Idempotent under concurrency via the (account_id, name) unique
// index.
func (wr *WalletRepository) UpsertDefaultWalletInTx(ctx context.Context, dbTx *gorm.DB, accountID uuid.UUID) (*models.Wallet, error) {
	wallet := &models.Wallet{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      "default",
		IsDefault: true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err := dbTx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}},
			DoNothing: true,
		}).
		Create(wallet).Error
	if err != nil {
		return nil, err
	}

	var existing models.Wallet
	if err := dbTx.WithContext(ctx).Where("account_id = ? AND name = ?", accountID, "default").First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetWalletsByAccount retrieves all wallets under an account
func (wr *WalletRepository) GetWalletsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	err := wr.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&wallets).Error
	return wallets, err
}

// Position operations

// AdjustPositionAmountInTx applies a signed delta to the position amount as a
// single conditional statement, mirroring AdjustCashInTx. Zero rows affected
// on a debit means the holding cannot cover the disposal; zero rows on a
// credit means no position row exists yet.
func (wr *WalletRepository) AdjustPositionAmountInTx(ctx context.Context, dbTx *gorm.DB, walletID uuid.UUID, currency string, delta decimal.Decimal) (int64, error) {
	q := dbTx.WithContext(ctx).Model(&models.Position{})
	if delta.IsNegative() {
		q = q.Where("wallet_id = ? AND currency = ? AND amount >= ?", walletID, currency, delta.Neg())
	} else {
		q = q.Where("wallet_id = ? AND currency = ?", walletID, currency)
	}
	res := q.Updates(map[string]interface{}{
		"amount":     gorm.Expr("amount + ?", delta),
		"updated_at": time.Now(),
	})
	return res.RowsAffected, res.Error
}

// CreatePositionInTx inserts a new position row
func (wr *WalletRepository) CreatePositionInTx(ctx context.Context, dbTx *gorm.DB, position *models.Position) error {
	return dbTx.WithContext(ctx).Create(position).Error
}

// GetPositionInTx retrieves a position within a transaction
func (wr *WalletRepository) GetPositionInTx(ctx context.Context, dbTx *gorm.DB, walletID uuid.UUID, currency string) (*models.Position, error) {
	var position models.Position
	err := dbTx.WithContext(ctx).
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		First(&position).Error
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// SavePositionInTx persists an updated position
func (wr *WalletRepository) SavePositionInTx(ctx context.Context, dbTx *gorm.DB, position *models.Position) error {
	return dbTx.WithContext(ctx).Save(position).Error
}

// GetPositionsByWallet retrieves all positions in a wallet
func (wr *WalletRepository) GetPositionsByWallet(ctx context.Context, walletID uuid.UUID) ([]*models.Position, error) {
	var positions []*models.Position
	err := wr.db.WithContext(ctx).Where("wallet_id = ?", walletID).Find(&positions).Error
	return positions, err
}

// GetPositionsByAccount retrieves all positions across every wallet under an
// account
func (wr *WalletRepository) GetPositionsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Position, error) {
	var positions []*models.Position
	err := wr.db.WithContext(ctx).
		Joins("JOIN wallets ON wallets.id = positions.wallet_id").
		Where("wallets.account_id = ?", accountID).
		Find(&positions).Error
	return positions, err
}

// GetAllPositions retrieves every position row, used by the background
// consistency sweep
func (wr *WalletRepository) GetAllPositions(ctx context.Context) ([]*models.Position, error) {
	var positions []*models.Position
	err := wr.db.WithContext(ctx).Find(&positions).Error
	return positions, err
}

// Lot operations

// CreateLotInTx inserts a new acquisition lot
func (wr *WalletRepository) CreateLotInTx(ctx context.Context, dbTx *gorm.DB, lot *models.PositionLot) error {
	return dbTx.WithContext(ctx).Create(lot).Error
}

// GetOpenLotsInTx retrieves lots with remaining amount in deterministic FIFO
// order: acquisition time ascending, auto-increment id as tie-break
func (wr *WalletRepository) GetOpenLotsInTx(ctx context.Context, dbTx *gorm.DB, walletID uuid.UUID, currency string) ([]*models.PositionLot, error) {
	var lots []*models.PositionLot
	err := dbTx.WithContext(ctx).
		Where("wallet_id = ? AND currency = ? AND remaining_amount > 0", walletID, currency).
		Order("created_at ASC, id ASC").
		Find(&lots).Error
	return lots, err
}

// GetLots retrieves all lots (consumed included) for a wallet and currency in
// FIFO order
func (wr *WalletRepository) GetLots(ctx context.Context, walletID uuid.UUID, currency string) ([]*models.PositionLot, error) {
	var lots []*models.PositionLot
	err := wr.db.WithContext(ctx).
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		Order("created_at ASC, id ASC").
		Find(&lots).Error
	return lots, err
}

// SaveLotInTx persists an updated lot
func (wr *WalletRepository) SaveLotInTx(ctx context.Context, dbTx *gorm.DB, lot *models.PositionLot) error {
	return dbTx.WithContext(ctx).Save(lot).Error
}

// SumLotRemaining returns the total remaining amount across a currency's lots
// in a wallet
func (wr *WalletRepository) SumLotRemaining(ctx context.Context, walletID uuid.UUID, currency string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := wr.db.WithContext(ctx).
		Model(&models.PositionLot{}).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		Scan(&total).Error
	return total, err
}

// Ledger operations

// AppendLedgerInTx appends an immutable ledger entry within a transaction
func (wr *WalletRepository) AppendLedgerInTx(ctx context.Context, dbTx *gorm.DB, entry *models.LedgerEntry) error {
	return dbTx.WithContext(ctx).Create(entry).Error
}

// GetLedgerEntries retrieves ledger entries for a user, newest first. Asset
// filters when non-empty.
func (wr *WalletRepository) GetLedgerEntries(ctx context.Context, userID uuid.UUID, asset string, limit, offset int) ([]*models.LedgerEntry, error) {
	q := wr.db.WithContext(ctx).Where("user_id = ?", userID)
	if asset != "" {
		q = q.Where("asset = ?", asset)
	}
	var entries []*models.LedgerEntry
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, err
}

// GetLedgerEntriesChronological retrieves a user's ledger for one asset in
// acquisition-replay order, used by the lot reconstruction fallback
func (wr *WalletRepository) GetLedgerEntriesChronological(ctx context.Context, userID uuid.UUID, asset string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := wr.db.WithContext(ctx).
		Where("user_id = ? AND asset = ? AND status = ?", userID, asset, models.EntryStatusCompleted).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// Health and setup

// HealthCheck performs a health check on the database
func (wr *WalletRepository) HealthCheck(ctx context.Context) error {
	var result int
	return wr.db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error
}

// AutoMigrate creates/updates database tables
func (wr *WalletRepository) AutoMigrate() error {
	return wr.db.AutoMigrate(
		&models.Account{},
		&models.Wallet{},
		&models.Position{},
		&models.PositionLot{},
		&models.LedgerEntry{},
		&models.MarketPrice{},
	)
}

// CreateIndexes creates database indexes for hot query paths
func (wr *WalletRepository) CreateIndexes() error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_account_name ON wallets(account_id, name)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_wallet_currency ON positions(wallet_id, currency)",
		"CREATE INDEX IF NOT EXISTS idx_lots_wallet_currency ON position_lots(wallet_id, currency)",
		"CREATE INDEX IF NOT EXISTS idx_lots_fifo ON position_lots(wallet_id, currency, created_at, id)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_user_asset ON ledger_entries(user_id, asset)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id)",
	}
	for _, stmt := range stmts {
		if err := wr.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

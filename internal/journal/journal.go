// ==================================
// File: internal/journal/journal.go
// ==================================

// Package journal persists the trade history to Postgres. Writes are best
// effort: a journal failure is logged and never blocks or fails a trade.
package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/pump-sniper/internal/engine"
)

const migrationLockID = 101

// Journal implements engine.Journal on top of gorm.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string, zapLogger *zap.Logger) (*Journal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db, logger: zapLogger.Named("journal")}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	var lockObtained bool
	err := j.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer j.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

	if err := j.db.AutoMigrate(&Trade{}, &PositionRecord{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (j *Journal) RecordBuy(ctx context.Context, mint, signature string, price, amount float64) {
	j.save(ctx, &Trade{
		Signature: signature,
		Mint:      mint,
		Side:      "buy",
		Price:     price,
		Amount:    amount,
		Stage:     -1,
	})
}

func (j *Journal) RecordSell(ctx context.Context, mint, signature string, price, amount float64, stage int) {
	j.save(ctx, &Trade{
		Signature: signature,
		Mint:      mint,
		Side:      "sell",
		Price:     price,
		Amount:    amount,
		Stage:     stage,
	})
}

func (j *Journal) RecordClose(ctx context.Context, pos engine.Position) {
	err := j.db.WithContext(ctx).Create(&PositionRecord{
		Mint:          pos.Mint,
		QuoteMint:     pos.QuoteMint,
		BuyPrice:      pos.BuyPrice,
		InitialAmount: pos.InitialAmount,
		RealizedPnL:   j.realizedPnL(ctx, pos),
		ExitReason:    string(pos.ExitReason),
		OpenedAt:      pos.OpenedAt,
		ClosedAt:      pos.ClosedAt,
	}).Error
	if err != nil {
		j.logger.Error("Failed to journal position close",
			zap.String("mint", pos.Mint), zap.Error(err))
	}
}

// realizedPnL sums the position's sell proceeds against its cost basis.
// Trades from earlier positions on the same mint are excluded by open time.
func (j *Journal) realizedPnL(ctx context.Context, pos engine.Position) float64 {
	var proceeds float64
	err := j.db.WithContext(ctx).Model(&Trade{}).
		Select("COALESCE(SUM(price * amount), 0)").
		Where("mint = ? AND side = ? AND created_at >= ?", pos.Mint, "sell", pos.OpenedAt).
		Scan(&proceeds).Error
	if err != nil {
		j.logger.Warn("Failed to compute realized pnl",
			zap.String("mint", pos.Mint), zap.Error(err))
		return 0
	}
	return proceeds - pos.BuyPrice*pos.InitialAmount
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (j *Journal) save(ctx context.Context, trade *Trade) {
	if err := j.db.WithContext(ctx).Create(trade).Error; err != nil {
		j.logger.Error("Failed to journal trade",
			zap.String("mint", trade.Mint),
			zap.String("side", trade.Side),
			zap.Error(err))
	}
}

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
	if err != nil {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}
	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

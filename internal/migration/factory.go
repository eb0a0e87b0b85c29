package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/gatekeeper/config"
)

// DatabaseURLFromConfig 由应用的数据库配置拼接迁移连接串
func DatabaseURLFromConfig(dbCfg config.DatabaseConfig) (DatabaseType, string, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}

	switch dbType {
	case DatabaseTypeSQLite:
		// sqlite 的 Name 为文件路径
		return dbType, BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", ""), nil
	case DatabaseTypePostgres:
		return dbType, BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode), nil
	default:
		return dbType, BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, ""), nil
	}
}

// NewMigratorFromDatabaseConfig 由数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, url, err := DatabaseURLFromConfig(dbCfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		TableName:    DefaultMigrationsTable,
		Logger:       logger,
	})
}

// NewMigratorFromURL 由类型名与连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    DefaultMigrationsTable,
		Logger:       logger,
	})
}

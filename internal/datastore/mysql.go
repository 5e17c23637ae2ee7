package datastore

import (
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/logger"
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// BuildMySQLDSN formats the connection string for the mysql section.
func BuildMySQLDSN(s *conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to the server and migrates the schema.
func (store *MySQLStore) Open() error {
	settings := &store.Settings.Output.MySQL
	dsn := BuildMySQLDSN(settings)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", settings.Host),
			logger.String("port", settings.Port),
			logger.String("database", settings.Database),
			logger.Error(err))
		return dbError(err, "open").Context("db_type", "mysql").Context("host", settings.Host).Build()
	}

	store.DB = db
	return performAutoMigration(db, "MySQL", net.JoinHostPort(settings.Host, settings.Port)+"/"+settings.Database)
}

// Close closes the database connection.
func (store *MySQLStore) Close() error {
	return closeDB(store.DB)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"tradewatch/internal/config"
	"tradewatch/internal/database"
	"tradewatch/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		dir        = flag.String("path", "", "迁移文件目录（默认使用内置迁移）")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚数据库迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本（用于修复脏状态）")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "tradewatch 数据库迁移工具")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "用法: migrate [选项]")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "示例:")
		fmt.Fprintln(os.Stderr, "  migrate -up")
		fmt.Fprintln(os.Stderr, "  migrate -version")
		fmt.Fprintln(os.Stderr, "  migrate -force 2    # 修复脏状态，强制设置为版本2")
	}
	flag.Parse()

	_ = godotenv.Load()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.LoadWithEnv(path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.Logging)

	db, err := database.NewConnection(context.Background(), cfg.Database, log)
	if err != nil {
		log.Error("连接数据库失败", "error", err)
		os.Exit(1)
	}

	// the migrator closes db
	migrator, err := database.NewMigrator(db, *dir, log)
	if err != nil {
		db.Close()
		log.Error("创建迁移器失败", "error", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := execute(migrator, *up, *down, *version, *force); err != nil {
		log.Error("迁移失败", "error", err)
		migrator.Close()
		os.Exit(1)
	}
}

func execute(m *database.Migrator, up, down, version bool, force int) error {
	switch {
	case up:
		return m.Up()
	case down:
		return m.Down()
	case version:
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("当前版本: %d (最新: %d)\n", v, database.SchemaVersion)
		if dirty {
			fmt.Println("⚠️  数据库处于脏状态，请使用 -force 修复")
		}
		return nil
	case force >= 0:
		return m.Force(force)
	default:
		// 默认运行迁移
		return m.Up()
	}
}

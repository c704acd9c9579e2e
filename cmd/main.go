package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/engine"
	"BestIP_Collector_Go/internal/logger"
	"BestIP_Collector_Go/internal/output"
	"BestIP_Collector_Go/internal/scheduler"
	"BestIP_Collector_Go/internal/server"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/pkg/model"
)

//go:embed default_config.yaml
var defaultConfigData []byte

//go:embed vantages.json
var defaultVantagesData []byte

//go:embed sources.txt
var defaultSourcesData []byte

// ensureFile 检查文件是否存在于可执行文件目录，如果不存在，则使用提供的默认数据创建它。
func ensureFile(exeDir, fileName string, defaultData []byte) (string, error) {
	filePath := filepath.Join(exeDir, fileName)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := os.WriteFile(filePath, defaultData, 0644); err != nil {
			return "", fmt.Errorf("无法写入默认文件 %s: %w", fileName, err)
		}
		slog.Info(fmt.Sprintf("首次运行，已在 %s 生成默认 %s 文件", exeDir, fileName))
	} else if err != nil {
		return "", fmt.Errorf("检查文件 %s 时出错: %w", fileName, err)
	}
	return filePath, nil
}

// resolvePaths 把配置中的相对路径转换为相对可执行文件目录的路径
func resolvePaths(cfg *config.Config, exeDir string) {
	for _, p := range []*string{&cfg.Storage.Dir, &cfg.Sources.File, &cfg.Ping.VantageFile, &cfg.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(exeDir, *p)
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(fmt.Sprintf("%s: %v", msg, err))
	os.Exit(1)
}

func main() {
	cliMode := flag.Bool("cli", false, "以命令行模式运行一次后退出")
	cfgFlag := flag.String("config", "", "配置文件路径，默认为可执行文件目录下的 config.yaml")
	flag.Parse()

	exePath, err := os.Executable()
	if err != nil {
		fatal("无法获取可执行文件路径", err)
	}
	exeDir := filepath.Dir(exePath)

	// 确保所有必需的文件都存在
	cfgPath := *cfgFlag
	if cfgPath == "" {
		if cfgPath, err = ensureFile(exeDir, "config.yaml", defaultConfigData); err != nil {
			fatal("初始化配置文件失败", err)
		}
	}
	if _, err := ensureFile(exeDir, "vantages.json", defaultVantagesData); err != nil {
		fatal("初始化 vantages.json 失败", err)
	}
	if _, err := ensureFile(exeDir, "sources.txt", defaultSourcesData); err != nil {
		fatal("初始化 sources.txt 失败", err)
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fatal("加载配置文件失败", err)
	}
	resolvePaths(cfg, exeDir)
	closer := logger.Init(cfg.Log)
	defer closer.Close()

	st, err := store.New(cfg.Storage)
	if err != nil {
		fatal("初始化存储失败", err)
	}
	defer st.Close()

	e, err := engine.Build(cfg, st, nil)
	if err != nil {
		fatal("初始化引擎失败", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *cliMode {
		if err := runCli(ctx, e, exeDir); err != nil {
			fatal("运行失败", err)
		}
		return
	}
	if err := runServer(ctx, e, cfgPath, exeDir); err != nil {
		fatal("服务运行失败", err)
	}
}

// runCli 执行一次汇总和测速，并把结果写入可执行文件目录
func runCli(ctx context.Context, e *engine.Engine, exeDir string) error {
	slog.Info("--- 以命令行模式运行 ---")

	progressCallback := func(message string) {
		slog.Info(message)
	}
	if err := e.Run(ctx, progressCallback); err != nil {
		return err
	}

	snap, err := e.StoredFastIPs(ctx)
	if err != nil {
		return err
	}
	resultJSONFile := filepath.Join(exeDir, "result_fast_ips.json")
	resultCSVFile := filepath.Join(exeDir, "result_fast_ips.csv")
	if err := output.WriteJSONFile(resultJSONFile, snap); err != nil {
		return err
	}
	if err := output.WriteCSVFile(resultCSVFile, snap.FastIPs); err != nil {
		return err
	}
	resultTextFile := filepath.Join(exeDir, "result_fast_ips.txt")
	if err := writeTextFile(resultTextFile, snap); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("结果已成功写入 %s、%s 和 %s", resultJSONFile, resultCSVFile, resultTextFile))
	slog.Info("--- 所有任务已完成 ---")
	return nil
}

func writeTextFile(filePath string, snap *model.FastIPSnapshot) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文本文件 '%s': %w", filePath, err)
	}
	defer file.Close()
	return output.WriteFastIPText(file, snap.FastIPs)
}

// runServer 启动定时任务和 HTTP 服务，配置文件变化时热更新
func runServer(ctx context.Context, e *engine.Engine, cfgPath, exeDir string) error {
	cfg := e.Config()
	sched := scheduler.New(e)
	if err := sched.Start(cfg.Schedule.Cron, cfg.Schedule.RunOnStart); err != nil {
		return err
	}
	defer sched.Stop()

	watcher, err := config.Watch(cfgPath, func(newCfg *config.Config) {
		resolvePaths(newCfg, exeDir)
		if err := e.Apply(newCfg); err != nil {
			slog.Error(fmt.Sprintf("应用新配置失败: %v", err))
			return
		}
		if err := sched.Reload(newCfg.Schedule.Cron); err != nil {
			slog.Error(fmt.Sprintf("更新定时任务失败: %v", err))
		}
		slog.Info("配置已更新", "cron", sched.Expr())
	})
	if err != nil {
		slog.Warn("配置热更新不可用", "err", err)
	} else {
		defer watcher.Close()
	}

	return server.New(e, cfgPath).Start(ctx, cfg.Server.Listen)
}

// Package main 凭据运维工具
//
// 守护进程之外的密钥与凭据操作：生成主密钥、查看密钥指纹、
// 批量加解密凭据文件、单值加解密、生成操作员密码哈希、调试 TOTP。
// 结果写 stdout，诊断信息写 stderr，便于脚本化。
package main

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"session-keeper/internal/accounts"
	"session-keeper/internal/apiserver/auth"
	"session-keeper/internal/config"
	"session-keeper/internal/secrets"
)

func main() {
	log.SetFlags(0)

	configDir := flag.String("config", "", "配置目录（默认按 APP_ENV 搜索）")
	flag.Usage = usage
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "key":
		runKey(args[1:])
	case "encrypt":
		runEncryptAll()
	case "decrypt":
		runDecryptAll()
	case "seal":
		runSeal()
	case "open":
		runOpen()
	case "hash-password":
		runHashPassword()
	case "totp":
		runTOTP(args[1:])
	default:
		log.Printf("unknown command: %s", args[0])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: keyctl [--config DIR] COMMAND

Commands:
  key generate     生成新主密钥并打印 hex（不落盘，由运维决定存放位置）
  key show         解析当前主密钥，打印来源与指纹
  encrypt          加密凭据文件中所有明文记录
  decrypt          解密凭据文件中所有加密记录（降级用）
  seal             从 stdin 读明文，打印加密信封
  open             从 stdin 读信封，打印明文
  hash-password    从 stdin 读密码，打印 bcrypt 哈希（KEEPER_ADMIN_PASSWORD_HASH）
  totp SECRET      打印共享密钥的当前一次性口令
`)
}

// runKey key 子命令分发
func runKey(args []string) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "generate":
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			log.Fatalf("generate key: %v", err)
		}
		fmt.Println(hex.EncodeToString(key))
		fmt.Fprintf(os.Stderr, "store it as %s or in <data_dir>/master.key (0600)\n", secrets.MasterKeyEnv)
	case "show":
		cfg := config.Load()
		key, source, err := secrets.LoadMasterKey(cfg.Keeper.DataDir)
		if err != nil {
			log.Fatalf("load master key: %v", err)
		}
		sum := sha256.Sum256(key)
		fmt.Printf("source: %s\n", source)
		fmt.Printf("fingerprint: %s\n", hex.EncodeToString(sum[:8]))
		if source == secrets.KeySourceGenerated {
			fmt.Fprintf(os.Stderr, "new key written to %s/master.key, back it up\n", cfg.Keeper.DataDir)
		}
	default:
		log.Printf("unknown key command: %s", args[0])
		usage()
		os.Exit(2)
	}
}

// runEncryptAll 批量加密凭据文件
func runEncryptAll() {
	store, cfg := openStore()
	n, err := store.EncryptAll()
	if err != nil {
		log.Fatalf("encrypt accounts: %v", err)
	}
	fmt.Printf("encrypted %d account(s) in %s\n", n, cfg.AccountsPath())
}

// runDecryptAll 批量解密凭据文件
func runDecryptAll() {
	store, cfg := openStore()
	n, err := store.DecryptAll()
	if err != nil {
		log.Fatalf("decrypt accounts: %v", err)
	}
	fmt.Printf("decrypted %d account(s) in %s\n", n, cfg.AccountsPath())
}

// runSeal 单值加密
func runSeal() {
	mgr := openCrypto()
	plain := readStdin()
	envelope, err := mgr.Encrypt(plain)
	if err != nil {
		log.Fatalf("seal: %v", err)
	}
	fmt.Println(envelope)
}

// runOpen 单值解密
func runOpen() {
	mgr := openCrypto()
	envelope := readStdin()
	plain, err := mgr.Decrypt(envelope)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	fmt.Println(plain)
}

// runHashPassword 生成操作员密码哈希
func runHashPassword() {
	password := readStdin()
	if password == "" {
		log.Fatal("password is empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	fmt.Println(hash)
}

// runTOTP 打印共享密钥的当前口令
func runTOTP(args []string) {
	if len(args) != 1 {
		log.Fatal("usage: keyctl totp SECRET")
	}
	now := time.Now()
	code, err := secrets.TOTPCode(args[0], now)
	if err != nil {
		log.Fatalf("totp: %v", err)
	}
	fmt.Println(code)
	fmt.Fprintf(os.Stderr, "valid for %ds\n", 30-now.Unix()%30)
}

// openCrypto 解析主密钥并创建加密管理器
func openCrypto() *secrets.Manager {
	cfg := config.Load()
	key, source, err := secrets.LoadMasterKey(cfg.Keeper.DataDir)
	if err != nil {
		log.Fatalf("load master key: %v", err)
	}
	mgr, err := secrets.NewManager(key)
	if err != nil {
		log.Fatalf("init crypto manager: %v", err)
	}
	fmt.Fprintf(os.Stderr, "using master key [source=%s]\n", source)
	return mgr
}

// openStore 打开带加密管理器的凭据存储
func openStore() (*accounts.Store, *config.Config) {
	cfg := config.Load()
	key, _, err := secrets.LoadMasterKey(cfg.Keeper.DataDir)
	if err != nil {
		log.Fatalf("load master key: %v", err)
	}
	mgr, err := secrets.NewManager(key)
	if err != nil {
		log.Fatalf("init crypto manager: %v", err)
	}
	store := accounts.NewStore(cfg.AccountsPath(), mgr, nil)
	if err := store.Load(); err != nil {
		log.Fatalf("load accounts: %v", err)
	}
	return store, cfg
}

// readStdin 读取并去掉末尾换行
func readStdin() string {
	reader := bufio.NewReader(os.Stdin)
	data, err := io.ReadAll(reader)
	if err != nil {
		log.Fatalf("read stdin: %v", err)
	}
	return strings.TrimRight(string(data), "\r\n")
}

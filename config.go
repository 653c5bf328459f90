package main

import (
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "FORGEPAY_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	defaultFiatCurrency  = "EUR"
)

// Config represents the overall application configuration
type Config struct {
	mode            Mode
	blockchains     map[uint32]BlockchainConfig
	assets          AssetsConfig
	fiatCurrency    string
	receiptKeyHex   string
	walletKeyHex    string
	solanaKeyBase58 string
	dbConf          DatabaseConfig
	oracleConf      OracleConfig
}

// OracleConfig holds the price upstream endpoints. Two independent upstreams:
// a crypto price feed and a fiat cross-rate feed.
type OracleConfig struct {
	PriceAPIURL string `env:"FORGEPAY_PRICE_API_URL" env-default:"https://api.coingecko.com/api/v3"`
	FxAPIURL    string `env:"FORGEPAY_FX_API_URL" env-default:"https://api.exchangerate-api.com/v4"`
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger Logger) (*Config, error) {
	logger = logger.NewSystem("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("FORGEPAY_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid FORGEPAY_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf DatabaseConfig
	dbURL := os.Getenv("FORGEPAY_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		// Read db config
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	var oracleConf OracleConfig
	if err := cleanenv.ReadEnv(&oracleConf); err != nil {
		logger.Error("failed to read env", "err", err)
		return nil, err
	}

	fiatCurrency := os.Getenv("FORGEPAY_FIAT_CURRENCY")
	if fiatCurrency == "" {
		fiatCurrency = defaultFiatCurrency
	}
	logger.Info("set fiat currency", "value", fiatCurrency)

	// Retrieve the receipt signing key.
	receiptKeyHex := os.Getenv("FORGEPAY_RECEIPT_SIGNING_KEY")
	if receiptKeyHex == "" {
		logger.Fatal("FORGEPAY_RECEIPT_SIGNING_KEY environment variable is required")
	}

	// Signing keys for the adapters are optional; adapters without one can
	// still watch and verify, just not sign.
	walletKeyHex := os.Getenv("FORGEPAY_WALLET_PRIVATE_KEY")
	solanaKeyBase58 := os.Getenv("FORGEPAY_SOLANA_SIGNING_KEY")

	blockchains, err := LoadBlockchains(configDirPath)
	if err != nil {
		logger.Fatal("failed to load blockchains", "error", err)
	}

	assets, err := LoadAssets(configDirPath)
	if err != nil {
		logger.Fatal("failed to load assets", "error", err)
	}

	config := Config{
		mode:            mode,
		blockchains:     blockchains,
		assets:          assets,
		fiatCurrency:    fiatCurrency,
		receiptKeyHex:   receiptKeyHex,
		walletKeyHex:    walletKeyHex,
		solanaKeyBase58: solanaKeyBase58,
		dbConf:          dbConf,
		oracleConf:      oracleConf,
	}

	return &config, nil
}

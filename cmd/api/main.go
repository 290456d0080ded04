package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"shopadmin/internal/cache"
	"shopadmin/internal/db"
	"shopadmin/internal/domain/catalog"
	"shopadmin/internal/domain/storage"
	"shopadmin/internal/photos"
	"shopadmin/internal/ratelimiter"
)

var version = "1.0.0"

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		RequestsPerTimeFrame: envInt("RATE_LIMITER_REQUESTS_COUNT", 200),
		TimeFrame:            envDuration("RATE_LIMITER_TIME_FRAME", 5*time.Second),
		Enabled:              envBool("RATE_LIMITER_ENABLED", false),
	}
}

func loadConfig() config {
	return config{
		addr: envString("ADDR", ":8080"),
		env:  envString("ENV", "development"),
		db: dbConfig{
			driver:       envString("DB_DRIVER", "postgres"),
			addr:         os.Getenv("DB_ADDR"),
			maxOpenConns: envInt("DB_MAX_OPEN_CONNS", 30),
			maxIdleConns: envInt("DB_MAX_IDLE_CONNS", 30),
			maxIdleTime:  envString("DB_MAX_IDLE_TIME", "15m"),
		},
		photos: photoConfig{
			backend:       envString("PHOTO_BACKEND", "local"),
			dir:           envString("PHOTO_DIR", "wwwroot/images/products"),
			cloudinaryURL: os.Getenv("CLOUDINARY_URL"),
			s3: s3Config{
				bucket:       os.Getenv("S3_BUCKET"),
				prefix:       os.Getenv("S3_PREFIX"),
				region:       os.Getenv("S3_REGION"),
				endpoint:     os.Getenv("S3_ENDPOINT"),
				accessKey:    os.Getenv("S3_ACCESS_KEY"),
				secretKey:    os.Getenv("S3_SECRET_KEY"),
				usePathStyle: envBool("S3_USE_PATH_STYLE", false),
			},
		},
		cache: cacheConfig{
			redisAddr:     os.Getenv("REDIS_ADDR"),
			redisPassword: os.Getenv("REDIS_PASSWORD"),
			redisDB:       envInt("REDIS_DB", 0),
			ttl:           envDuration("LISTING_CACHE_TTL", 5*time.Minute),
		},
		auth: authConfig{
			basic: basicConfig{
				user:     os.Getenv("AUTH_BASIC_USER"),
				passHash: os.Getenv("AUTH_BASIC_PASS_HASH"),
			},
		},
		rateLimiter: LoadRateLimiterConfig(),
		logFile:     os.Getenv("LOG_FILE"),
	}
}

// NewLogger creates a zap logger with colored console output. When logFile
// is set, JSON logs are also written there and rotated.
func NewLogger(logFile string) (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level := zapcore.InfoLevel
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level),
	}

	if logFile != "" {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    64, // megabytes
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar(), nil
}

func newPhotoStorage(ctx context.Context, cfg photoConfig) (catalog.PhotoStorage, error) {
	switch cfg.backend {
	case "", "local":
		return photos.NewLocalStorage(cfg.dir)
	case "cloudinary":
		return photos.NewCloudinaryStorage(cfg.cloudinaryURL, "")
	case "s3":
		return photos.NewS3Storage(ctx, photos.S3Config{
			Bucket:       cfg.s3.bucket,
			Prefix:       cfg.s3.prefix,
			Region:       cfg.s3.region,
			Endpoint:     cfg.s3.endpoint,
			AccessKey:    cfg.s3.accessKey,
			SecretKey:    cfg.s3.secretKey,
			UsePathStyle: cfg.s3.usePathStyle,
		})
	}
	return nil, fmt.Errorf("unknown photo backend %q", cfg.backend)
}

func main() {
	// a missing .env is fine; the environment may already be set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg := loadConfig()

	// Logger
	logger, err := NewLogger(cfg.logFile)
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	if cfg.auth.basic.user == "" || cfg.auth.basic.passHash == "" {
		logger.Fatal("AUTH_BASIC_USER and AUTH_BASIC_PASS_HASH must be set")
	}

	// Database
	db, err := db.New(
		cfg.db.driver,
		cfg.db.addr,
		cfg.db.maxOpenConns,
		cfg.db.maxIdleConns,
		cfg.db.maxIdleTime,
	)
	if err != nil {
		logger.Fatal(err)
	}
	defer db.Close()
	logger.Infow("database connection pool established", "driver", cfg.db.driver)

	// storage
	store := storage.NewContainer(db)

	// photos
	photoStore, err := newPhotoStorage(context.Background(), cfg.photos)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infow("photo storage ready", "backend", cfg.photos.backend)

	opts := []catalog.ServiceOption{catalog.WithTx(store.WithCatalogTx)}

	// listing cache
	if cfg.cache.redisAddr != "" {
		rdb, err := cache.NewRedisClient(cfg.cache.redisAddr, cfg.cache.redisPassword, cfg.cache.redisDB)
		if err != nil {
			logger.Fatal(err)
		}
		defer rdb.Close()
		opts = append(opts, catalog.WithListingCache(cache.NewRedisListingCache(rdb, cfg.cache.ttl, logger)))
		logger.Infow("listing cache enabled", "addr", cfg.cache.redisAddr, "ttl", cfg.cache.ttl)
	}

	catalogService := catalog.NewService(store.Catalog, photoStore, logger, opts...)

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)

	app := &application{
		config:      cfg,
		store:       store,
		catalog:     catalogService,
		logger:      logger,
		rateLimiter: rateLimiter,
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		return db.Stats()
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}

func envString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %d\n", key, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %t\n", key, fallback)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		fmt.Printf("Invalid %s, defaulting to %s\n", key, fallback)
		return fallback
	}
	return d
}

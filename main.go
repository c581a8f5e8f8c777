package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoice-hand/config"
	"invoice-hand/models"
	"invoice-hand/providers/openai"
	"invoice-hand/services"
	"invoice-hand/storage"
	"invoice-hand/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	invoicesParsedCounter    prometheus.Counter
	invoicesDuplicateCounter prometheus.Counter
)

func init() {
	invoicesParsedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoices_parsed_total",
			Help: "Total number of invoices parsed and stored.",
		},
	)
	invoicesDuplicateCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoices_duplicate_total",
			Help: "Total number of uploads that matched an already stored invoice.",
		},
	)
	prometheus.MustRegister(invoicesParsedCounter, invoicesDuplicateCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// corsMiddleware erlaubt alle Origins; das Frontend läuft auf einem anderen Host.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-KEY")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to invoice database.")

	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable(&models.Item{}, &models.Invoice{})
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Invoice{}, &models.Item{})

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}

	extractor := openai.NewExtractor(cfg, logging)
	invoiceStore := store.NewInvoiceStore(db, logging)
	archiver := storage.NewArchiver(s3Client, cfg)
	invoiceService := services.NewInvoiceService(cfg, invoiceStore, archiver, logging, extractor)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupInvoiceRoutes(router, invoiceService, logging)
	setupHealthRoutes(router)

	// Nächtlicher Sweep über noch nicht kanonische Rechnungsdaten
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled date normalization sweep...")
		count, err := invoiceService.RenormalizeDates(context.Background())
		if err != nil {
			logging.Error("Cron job failed", zap.Error(err))
		} else {
			logging.Info("Cron job completed", zap.Int("updated_dates", count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupInvoiceRoutes(router *gin.Engine, svc *services.InvoiceService, log *zap.Logger) {
	// POST - Rechnungsbild hochladen und extrahieren
	router.POST("/upload-invoice", func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: 'file' field is required"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			log.Error("Failed to open uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		defer file.Close()
		image, err := io.ReadAll(file)
		if err != nil {
			log.Error("Failed to read uploaded file", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file"})
			return
		}

		result, err := svc.ProcessUpload(c.Request.Context(), fileHeader.Filename, image)
		if err != nil {
			log.Error("Invoice processing failed", zap.String("filename", fileHeader.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process invoice: " + err.Error()})
			return
		}

		switch result.Status {
		case services.StatusSuccess:
			invoicesParsedCounter.Inc()
		case services.StatusAlreadyParsed:
			invoicesDuplicateCounter.Inc()
		}

		c.JSON(http.StatusOK, gin.H{
			"status":         result.Status,
			"id":             result.Fields["id"],
			"invoice_number": result.Fields["invoice_number"],
			"date":           result.Fields["invoice_date"],
			"vendor_name":    result.Fields["vendor_name"],
			"customer_name":  result.Fields["customer_name"],
			"total":          result.Fields["total_amount"],
			"items":          result.Fields["items"],
		})
	})

	// PUT - Rechnung und Positionen partiell aktualisieren
	router.PUT("/update-invoice/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
			return
		}

		var upd models.InvoiceUpdate
		if err := c.ShouldBindJSON(&upd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		invoice, err := svc.UpdateInvoice(c.Request.Context(), uint(id), upd)
		if err != nil {
			if errors.Is(err, services.ErrInvoiceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
				return
			}
			log.Error("Failed to update invoice", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update invoice"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": "Invoice updated successfully",
			"data":    invoice,
		})
	})

	// GET - Paginierte Liste mit Suche, Datumsfiltern und Sortierung
	router.GET("/invoices", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		sortOrder := c.DefaultQuery("sort_order", "desc")

		if !strings.EqualFold(sortOrder, "asc") && !strings.EqualFold(sortOrder, "desc") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sort_order must be 'asc' or 'desc'"})
			return
		}
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		params := store.ListParams{
			Page:      page,
			Limit:     limit,
			SortBy:    c.DefaultQuery("sort_by", "id"),
			SortOrder: sortOrder,
			Search:    c.Query("search"),
			DateFrom:  c.Query("date_from"),
			DateTo:    c.Query("date_to"),
		}

		invoices, total, pages, err := svc.ListInvoices(c.Request.Context(), params)
		if err != nil {
			log.Error("Database query for invoices failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"data":   invoices,
			"pagination": gin.H{
				"page":  page,
				"limit": limit,
				"total": total,
				"pages": pages,
			},
		})
	})

	// GET - Einzelne Rechnung samt Positionen
	router.GET("/invoice/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice id"})
			return
		}

		invoice, err := svc.GetInvoice(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, services.ErrInvoiceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
				return
			}
			log.Error("Failed to fetch invoice", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"data":   invoice,
		})
	})
}

func setupHealthRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"detail": "Service is healthy",
		})
	})
}

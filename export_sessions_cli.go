package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gorm.io/gorm"
)

// SessionExportOptions contains options for exporting completed sessions
type SessionExportOptions struct {
	ChainID   uint32
	OutputDir string
}

// SessionExporter handles exporting completed payment sessions to CSV
type SessionExporter struct {
	db *gorm.DB
}

// NewSessionExporter creates a new session exporter
func NewSessionExporter(db *gorm.DB) *SessionExporter {
	return &SessionExporter{
		db: db,
	}
}

// ExportToCSV exports completed sessions to CSV format
func (e *SessionExporter) ExportToCSV(writer io.Writer, options SessionExportOptions) error {
	sessions, err := GetCompletedSessions(e.db, options.ChainID)
	if err != nil {
		return fmt.Errorf("failed to get sessions: %w", err)
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	// Write header
	header := []string{"SessionID", "ChainID", "ProductRef", "Currency", "AmountDue", "FiatAmount", "FiatCurrency", "ExchangeRate", "TxRef", "Sender", "CreatedAt", "CompletedAt"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	// Write sessions
	for _, session := range sessions {
		txRef := ""
		if session.MatchedTxRef != nil {
			txRef = *session.MatchedTxRef
		}
		sender := ""
		if session.MatchedSender != nil {
			sender = *session.MatchedSender
		}
		row := []string{
			session.SessionID,
			fmt.Sprintf("%d", session.ChainID),
			session.ProductRef,
			session.CurrencySymbol,
			session.AmountDue.String(),
			session.FiatAmount.String(),
			session.FiatCurrency,
			session.ExchangeRate.String(),
			txRef,
			sender,
			session.CreatedAt.String(),
			session.UpdatedAt.String(),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}
	return nil
}

// ExportToFile exports completed sessions to a CSV file
func (e *SessionExporter) ExportToFile(options SessionExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	suffix := "all"
	if options.ChainID != 0 {
		suffix = strconv.FormatUint(uint64(options.ChainID), 10)
	}
	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("sessions_%s.csv", suffix))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportSessionsCli(logger Logger) {
	logger = logger.NewSystem("export-sessions")
	if len(os.Args) > 3 {
		logger.Fatal("Usage: forgepay export-sessions [chainID]")
	}

	var chainID uint32
	if len(os.Args) > 2 {
		parsed, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			logger.Fatal("Invalid chain ID", "chainID", os.Args[2], "error", err)
		}
		chainID = uint32(parsed)
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewSessionExporter(db)
	options := SessionExportOptions{
		ChainID:   chainID,
		OutputDir: "csv_export",
	}

	fileName, err := exporter.ExportToFile(options)
	if err != nil {
		logger.Fatal("Failed to export sessions", "error", err)
	}
	logger.Info("Successfully exported sessions", "file", fileName)
}

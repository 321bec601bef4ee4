// Package main runs a standalone camera gateway simulator: a TLS
// framed-JPEG video socket and control HTTP API matching spec.md §6, for
// development and integration testing against cmd/edge without real
// camera hardware.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomeravgil/guardcar/internal/camerasim"
	"github.com/tomeravgil/guardcar/internal/core"
	"github.com/tomeravgil/guardcar/internal/telemetry"
)

func main() {
	logger := telemetry.Setup("camerasim", os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cert, err := selfSignedCert()
	if err != nil {
		logger.Error("failed to generate self-signed certificate", "error", err)
		os.Exit(1)
	}

	ports := core.GetPortManager()
	videoPort, err := ports.ReserveOrFind(core.DefaultCameraVideoPort, "camerasim-video")
	if err != nil {
		logger.Error("failed to reserve video port", "error", err)
		os.Exit(1)
	}
	controlPort, err := ports.ReserveOrFind(core.DefaultCameraControlPort, "camerasim-control")
	if err != nil {
		logger.Error("failed to reserve control port", "error", err)
		os.Exit(1)
	}

	fps := 15
	if v := os.Getenv("CAMERASIM_FPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			fps = n
		}
	}

	source := camerasim.NewFrameSource(1280, 480, 80)
	sender := camerasim.NewSender(fmt.Sprintf("0.0.0.0:%d", videoPort), cert, fps, source, logger)
	control := camerasim.NewControl(sender)

	controlAddr := fmt.Sprintf("0.0.0.0:%d", controlPort)
	controlServer := &http.Server{
		Addr:         controlAddr,
		Handler:      control.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("camerasim control API starting", "address", controlAddr)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control server error", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := sender.Run(ctx); err != nil {
			logger.Error("video socket error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutting down camerasim")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = controlServer.Shutdown(shutdownCtx)
}

// selfSignedCert generates an ephemeral self-signed certificate for the
// simulated camera's TLS video socket; a real camera gateway would load a
// provisioned key pair instead.
func selfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "guardcar-camerasim"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

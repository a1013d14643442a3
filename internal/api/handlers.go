package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/igwedaniel/walletsync/internal/blockchain"
	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/storage"
	"github.com/igwedaniel/walletsync/internal/wallet"
	"github.com/sirupsen/logrus"
)

// Handlers contains HTTP handlers for the API
type Handlers struct {
	trackerManager *blockchain.TrackerManager
	wallets        *wallet.Manager
	listener       *network.Listener
	feed           *messaging.FeedPublisher
	storage        storage.Storage
	logger         *logrus.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(
	trackerManager *blockchain.TrackerManager,
	wallets *wallet.Manager,
	listener *network.Listener,
	feed *messaging.FeedPublisher,
	storage storage.Storage,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		trackerManager: trackerManager,
		wallets:        wallets,
		listener:       listener,
		feed:           feed,
		storage:        storage,
		logger:         logger,
	}
}

// Routes registers every endpoint on a new mux
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.HealthCheck)

	mux.HandleFunc("/api/v1/status", h.GetStatus)
	mux.HandleFunc("/api/v1/networks", h.GetSupportedNetworks)

	mux.HandleFunc("/api/v1/wallets/watch", h.WatchAddress)
	mux.HandleFunc("/api/v1/wallets/unwatch", h.UnwatchAddress)
	mux.HandleFunc("/api/v1/wallets/current", h.CurrentWallet)
	mux.HandleFunc("/api/v1/wallets/pending", h.GetPendingTransactions)
	mux.HandleFunc("/api/v1/wallets", h.GetWatchedAddresses)

	mux.HandleFunc("/api/v1/events", h.StreamEvents)

	return mux
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.Errorf("Storage health check failed: %v", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "walletsync",
	})
}

// GetStatus returns the listener state and the feed statistics
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	currentWallet := ""
	if current, ok := h.wallets.CurrentWallet(r.Context()); ok {
		currentWallet = current.ID()
	}

	h.writeSuccess(w, map[string]interface{}{
		"listener":       h.listener.Stats(),
		"feeds":          h.trackerManager.GetStats(),
		"current_wallet": currentWallet,
	})
}

// GetSupportedNetworks returns the list of supported chains
func (h *Handlers) GetSupportedNetworks(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"networks": h.trackerManager.GetSupportedNetworks(),
	})
}

type addressRequest struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
}

func decodeAddressRequest(w http.ResponseWriter, r *http.Request) (*addressRequest, bool) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return nil, false
	}
	if req.WalletID == "" || req.Address == "" {
		http.Error(w, "Missing required fields: wallet_id, address", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// WatchAddress adds an address to a wallet
func (h *Handlers) WatchAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeAddressRequest(w, r)
	if !ok {
		return
	}

	if err := h.wallets.WatchAddress(r.Context(), req.WalletID, req.Address); err != nil {
		if errors.Is(err, wallet.ErrInvalidAddress) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Errorf("Failed to watch address: %v", err)
		http.Error(w, "Failed to watch address", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"wallet_id": req.WalletID,
		"address":   req.Address,
	}).Info("Address added to wallet")

	h.writeSuccess(w, map[string]string{
		"wallet_id": req.WalletID,
		"address":   req.Address,
	})
}

// UnwatchAddress removes an address from a wallet
func (h *Handlers) UnwatchAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeAddressRequest(w, r)
	if !ok {
		return
	}

	if err := h.wallets.UnwatchAddress(r.Context(), req.WalletID, req.Address); err != nil {
		h.logger.Errorf("Failed to unwatch address: %v", err)
		http.Error(w, "Failed to unwatch address", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"wallet_id": req.WalletID,
		"address":   req.Address,
	}).Info("Address removed from wallet")

	h.writeSuccess(w, map[string]string{
		"wallet_id": req.WalletID,
		"address":   req.Address,
	})
}

// GetWatchedAddresses lists the addresses of the wallet named by the
// wallet_id query parameter, the current wallet by default
func (h *Handlers) GetWatchedAddresses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	walletID, ok := h.walletIDParam(w, r)
	if !ok {
		return
	}

	addresses, err := h.wallets.WatchedAddresses(r.Context(), walletID)
	if err != nil {
		h.logger.Errorf("Failed to get watched addresses for %s: %v", walletID, err)
		http.Error(w, "Failed to get watched addresses", http.StatusInternalServerError)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"wallet_id": walletID,
		"addresses": addresses,
	})
}

// GetPendingTransactions lists the pending set of a wallet
func (h *Handlers) GetPendingTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	walletID, ok := h.walletIDParam(w, r)
	if !ok {
		return
	}

	pending, err := h.wallets.PendingTransactions(r.Context(), walletID)
	if err != nil {
		h.logger.Errorf("Failed to get pending transactions for %s: %v", walletID, err)
		http.Error(w, "Failed to get pending transactions", http.StatusInternalServerError)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"wallet_id":    walletID,
		"transactions": pending,
	})
}

// CurrentWallet reports the current wallet on GET and selects one on POST
func (h *Handlers) CurrentWallet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current, ok := h.wallets.CurrentWallet(r.Context())
		if !ok {
			http.Error(w, "No current wallet", http.StatusNotFound)
			return
		}
		h.writeSuccess(w, map[string]string{"wallet_id": current.ID()})

	case http.MethodPost:
		var req struct {
			WalletID string `json:"wallet_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.WalletID == "" {
			http.Error(w, "Missing required field: wallet_id", http.StatusBadRequest)
			return
		}
		if err := h.wallets.SelectWallet(r.Context(), req.WalletID); err != nil {
			if errors.Is(err, wallet.ErrUnknownWallet) {
				http.Error(w, "Wallet has no watched addresses", http.StatusNotFound)
				return
			}
			h.logger.Errorf("Failed to select wallet: %v", err)
			http.Error(w, "Failed to select wallet", http.StatusInternalServerError)
			return
		}
		h.writeSuccess(w, map[string]string{"wallet_id": req.WalletID})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) walletIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if walletID := r.URL.Query().Get("wallet_id"); walletID != "" {
		return walletID, true
	}
	current, ok := h.wallets.CurrentWallet(r.Context())
	if !ok {
		http.Error(w, "Missing wallet_id and no current wallet", http.StatusBadRequest)
		return "", false
	}
	return current.ID(), true
}

func (h *Handlers) writeSuccess(w http.ResponseWriter, data interface{}) {
	if err := writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   data,
	}); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(body)
}

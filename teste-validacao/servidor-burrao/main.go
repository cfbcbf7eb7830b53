// Upstream falso para validar o gateway na mão: responde como um worker de
// LLM, com atraso e falhas configuráveis.
//
//	FAKE_DELAY=2s FAKE_FAIL_EVERY=3 go run ./teste-validacao/servidor-burrao
//	UPSTREAM_URL=http://localhost:8081/complete gateway serve
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

type completionRequest struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Payload   string `json:"payload"`
}

type completionResponse struct {
	Content  string            `json:"content"`
	Model    string            `json:"model"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func main() {
	delay, _ := time.ParseDuration(os.Getenv("FAKE_DELAY"))
	failEvery, _ := strconv.Atoi(os.Getenv("FAKE_FAIL_EVERY"))
	var calls atomic.Int64

	http.HandleFunc("POST /complete", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		fmt.Printf("Log: chamada #%d provider=%s model=%s sessão=%s\n", n, req.Provider, req.Model, req.SessionID)

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			fmt.Printf("Log: chamada #%d cancelada pelo gateway\n", n)
			return
		}

		if failEvery > 0 && n%int64(failEvery) == 0 {
			http.Error(w, "modelo sobrecarregado", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse{
			Content:  fmt.Sprintf("resposta #%d para: %s", n, req.Payload),
			Model:    req.Model,
			Metadata: map[string]string{"call": strconv.FormatInt(n, 10)},
		})
	})

	fmt.Println("Servidor rodando em http://localhost:8081")
	err := http.ListenAndServe(":8081", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}

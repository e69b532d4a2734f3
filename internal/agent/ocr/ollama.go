package ocr

import (
    "bytes"
    "context"
    "encoding/base64"
    "encoding/json"
    "errors"
    "fmt"
    "image"
    "image/png"
    "io"
    "net"
    "net/http"
    "strings"
    "time"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type OllamaConfig struct {
    Endpoint    string        `yaml:"endpoint" json:"endpoint"`
    Model       string        `yaml:"model" json:"model"`
    Temperature float64       `yaml:"temperature" json:"temperature"`
    Prompt      string        `yaml:"prompt" json:"prompt"`
    MaxPoolSize int           `yaml:"max_pool_size" json:"maxPoolSize"`
    PoolTimeout time.Duration `yaml:"pool_timeout" json:"poolTimeout"`
}

const defaultOllamaPrompt = `Transcribe all text visible in this image exactly as written.
Keep the reading order and line breaks. Output only the transcribed text, with no commentary.
The text language hint is: %s`

func DefaultOllamaConfig() OllamaConfig {
    return OllamaConfig{
        Endpoint:    "http://localhost:11434",
        Model:       "llama3.2-vision",
        Temperature: 0,
        Prompt:      defaultOllamaPrompt,
        MaxPoolSize: 4,
        PoolTimeout: 30 * time.Second,
    }
}

// OllamaResponse is the non-streaming /api/generate reply.
type OllamaResponse struct {
    Response      string `json:"response"`
    Model         string `json:"model"`
    Done          bool   `json:"done"`
    TotalDuration int64  `json:"total_duration,omitempty"`
    EvalCount     int    `json:"eval_count,omitempty"`
    Error         string `json:"error,omitempty"`
}

type OllamaClient struct {
    endpoint    string
    model       string
    temperature float64
    httpClient  *http.Client
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
    return &OllamaClient{
        endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
        model:       cfg.Model,
        temperature: cfg.Temperature,
        httpClient:  &http.Client{Timeout: 120 * time.Second},
    }
}

// Transcribe sends img to a vision model and returns its reply.
func (c *OllamaClient) Transcribe(ctx context.Context, img image.Image, prompt string) (string, error) {
    buf := new(bytes.Buffer)
    if err := png.Encode(buf, img); err != nil {
        return "", fmt.Errorf("failed to encode image: %w", err)
    }

    reqBody := map[string]interface{}{
        "model":  c.model,
        "prompt": prompt,
        "images": []string{base64.StdEncoding.EncodeToString(buf.Bytes())},
        "stream": false,
        "options": map[string]interface{}{
            "temperature": c.temperature,
        },
    }
    reqData, err := json.Marshal(reqBody)
    if err != nil {
        return "", fmt.Errorf("failed to marshal request: %w", err)
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
    if err != nil {
        return "", fmt.Errorf("failed to create request: %w", err)
    }
    req.Header.Set("Content-Type", "application/json")

    resp, err := c.httpClient.Do(req)
    if err != nil {
        var netErr *net.OpError
        if errors.As(err, &netErr) {
            return "", fmt.Errorf("%w: ollama: %v", models.ErrEngineUnavailable, err)
        }
        return "", fmt.Errorf("failed to send request: %w", err)
    }
    defer resp.Body.Close()

    if resp.StatusCode == http.StatusNotFound {
        body, _ := io.ReadAll(resp.Body)
        return "", fmt.Errorf("%w: ollama model %s: %s", models.ErrEngineUnavailable, c.model, string(body))
    }
    if resp.StatusCode != http.StatusOK {
        body, _ := io.ReadAll(resp.Body)
        return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
    }

    var result OllamaResponse
    if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
        return "", fmt.Errorf("failed to decode response: %w", err)
    }
    if result.Error != "" {
        return "", fmt.Errorf("ollama error: %s", result.Error)
    }
    return result.Response, nil
}

func (c *OllamaClient) Close() error {
    c.httpClient.CloseIdleConnections()
    return nil
}

// OllamaClientPool bounds the number of concurrent model requests.
type OllamaClientPool struct {
    clients chan *OllamaClient
    timeout time.Duration
}

func NewOllamaClientPool(cfg OllamaConfig) *OllamaClientPool {
    size := cfg.MaxPoolSize
    if size <= 0 {
        size = 1
    }
    pool := &OllamaClientPool{
        clients: make(chan *OllamaClient, size),
        timeout: cfg.PoolTimeout,
    }
    for i := 0; i < size; i++ {
        pool.clients <- NewOllamaClient(cfg)
    }
    return pool
}

func (p *OllamaClientPool) Get(ctx context.Context) (*OllamaClient, error) {
    var wait <-chan time.Time
    if p.timeout > 0 {
        timer := time.NewTimer(p.timeout)
        defer timer.Stop()
        wait = timer.C
    }
    select {
    case client := <-p.clients:
        return client, nil
    case <-wait:
        return nil, fmt.Errorf("timeout waiting for available client")
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}

func (p *OllamaClientPool) Put(client *OllamaClient) {
    select {
    case p.clients <- client:
    default:
    }
}

func (p *OllamaClientPool) Close() error {
    close(p.clients)
    for client := range p.clients {
        client.Close()
    }
    return nil
}

// OllamaEngine transcribes images with a local vision model. Models give no
// confidence, so results are unscored.
type OllamaEngine struct {
    pool   *OllamaClientPool
    prompt string
    logger logger.Logger
}

func NewOllamaEngine(cfg OllamaConfig, log logger.Logger) *OllamaEngine {
    if cfg.Prompt == "" {
        cfg.Prompt = defaultOllamaPrompt
    }
    return &OllamaEngine{
        pool:   NewOllamaClientPool(cfg),
        prompt: cfg.Prompt,
        logger: log.Named("ollama"),
    }
}

func (e *OllamaEngine) Name() string { return EngineOllama }

func (e *OllamaEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    client, err := e.pool.Get(ctx)
    if err != nil {
        if ctx.Err() != nil {
            return Recognition{}, ContextError(ctx)
        }
        return Recognition{}, err
    }
    defer e.pool.Put(client)

    prompt := e.prompt
    if strings.Contains(prompt, "%s") {
        prompt = fmt.Sprintf(prompt, language)
    }
    text, err := client.Transcribe(ctx, img, prompt)
    if err != nil {
        if ctx.Err() != nil {
            return Recognition{}, ContextError(ctx)
        }
        return Recognition{}, err
    }
    return Recognition{Text: strings.TrimSpace(text)}, nil
}

func (e *OllamaEngine) Close() error {
    return e.pool.Close()
}

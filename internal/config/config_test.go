package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
		os.Setenv("PAYMENT_RECEIPT_SECRET", "test-secret")
	})

	AfterEach(func() {
		os.Unsetenv("PAYMENT_RECEIPT_SECRET")
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				valid := `
server:
  http_port: "8080"
  metrics_port: "9090"

llm:
  endpoint: "http://localhost:11434"
  model: "claim-analysis"
  provider: "localai"
  timeout: "30s"

decision:
  auto_approve_confidence: 0.95
  auto_approve_fraud_max: 0.3

settlement:
  enabled: false
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("loads configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.LLM.Endpoint).To(Equal("http://localhost:11434"))
				Expect(cfg.LLM.Provider).To(Equal("localai"))
				Expect(cfg.Decision.AutoApproveConfidence).To(Equal(0.95))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
llm:
  endpoint: "http://localhost:8080"
  model: "m"
  provider: "localai"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("fills in defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Stage.TimeoutSeconds).To(Equal(60))
				Expect(cfg.Pipeline.TimeoutSeconds).To(Equal(600))
				Expect(cfg.ToolCost.VerifyDocumentCost().String()).To(Equal("0.05"))
			})
		})

		Context("when config file does not exist", func() {
			It("returns an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				bad := "server:\n  http_port: [\nllm:\n  endpoint: x\n"
				Expect(os.WriteFile(configFile, []byte(bad), 0644)).To(Succeed())
			})

			It("returns an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaults()
			cfg.Payment.ReceiptSecret = "test-secret"
		})

		It("passes for defaults", func() {
			Expect(validate(cfg)).To(Succeed())
		})

		It("rejects an unsupported LLM provider", func() {
			cfg.LLM.Provider = "bogus"
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported LLM provider"))
		})

		It("rejects a decision threshold outside [0,1]", func() {
			cfg.Decision.NeedsReviewMin = 1.5
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("requires an escrow address when settlement is enabled", func() {
			cfg.Settlement.Enabled = true
			cfg.Settlement.EscrowAddress = ""
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("escrow_address"))
		})
	})

	Describe("loadFromEnv", func() {
		BeforeEach(func() {
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		It("applies overrides from the environment", func() {
			os.Setenv("LLM_ENDPOINT", "http://test:8080")
			os.Setenv("SETTLEMENT_ENABLED", "true")
			cfg := defaults()
			Expect(loadFromEnv(cfg)).To(Succeed())
			Expect(cfg.LLM.Endpoint).To(Equal("http://test:8080"))
			Expect(cfg.Settlement.Enabled).To(BeTrue())
		})

		It("leaves config untouched when nothing is set", func() {
			cfg := defaults()
			before := *cfg
			Expect(loadFromEnv(cfg)).To(Succeed())
			Expect(*cfg).To(Equal(before))
		})
	})
})

package relay

import (
	"github.com/ent0n29/docvoice/internal/config"
	"github.com/ent0n29/docvoice/internal/protocol"
)

const searchToolDescription = "Search the available documents for information relevant to the user's question. Use this tool for any question the documents might answer."

// SessionConfigFromProfile builds the session.update body for a profile.
// The tool catalog always holds exactly the document search tool.
func SessionConfigFromProfile(p config.SessionProfile) protocol.SessionConfig {
	cfg := protocol.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      p.Instructions,
		Voice:             p.Voice,
		InputAudioFormat:  p.InputAudioFormat,
		OutputAudioFormat: p.OutputAudioFormat,
		Tools:             []protocol.Tool{searchDocumentsTool()},
		ToolChoice:        p.ToolChoice,
	}
	if p.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &protocol.Transcription{Model: p.TranscriptionModel}
	}
	if p.VADType != "" {
		cfg.TurnDetection = &protocol.TurnDetection{
			Type:              p.VADType,
			Threshold:         p.VADThreshold,
			PrefixPaddingMS:   p.VADPrefixPaddingMS,
			SilenceDurationMS: p.VADSilenceMS,
		}
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = "auto"
	}
	return cfg
}

func searchDocumentsTool() protocol.Tool {
	return protocol.Tool{
		Type:        "function",
		Name:        ToolSearchDocuments,
		Description: searchToolDescription,
		Parameters: protocol.ToolParameters{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"query": {Type: "string", Description: "The search query to find relevant information"},
			},
			Required: []string{"query"},
		},
	}
}

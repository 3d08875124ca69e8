package pipeline

const decompositionSystemPrompt = `You are a research planner. Break the user's research question into focused sub-questions that together answer it.
Return at most 7 sub-questions.
Respond with ONLY a JSON array of strings, for example ["first sub-question", "second sub-question"]. No prose, no markdown.`

const claimExtractionSystemPrompt = `You extract factual claims from numbered evidence sources.
For each distinct claim relevant to the research question, list the indices of the sources that support it and the indices of the sources that contradict it.
Respond with ONLY a JSON array of objects shaped like {"text": "...", "supportingIndices": [0, 2], "contradictingIndices": [1]}.
Indices refer to the bracketed source numbers. Use an empty array when no source contradicts a claim.`

const synthesisSystemPrompt = `You are a research analyst writing a concise, well-structured markdown report.
Cite evidence inline using the bracketed source numbers, for example [1] or [2][3].
Only make statements supported by the listed sources and claims.`

const contradictionInstruction = `Some claims are contradicted by other sources. Address the conflicting evidence explicitly: describe each side, which sources back it, and which position the evidence favours.`

package llm

const classifySystemPrompt = `You triage place mentions extracted from book stories for geocoding.
Given a place name, type, note, and story context, reply with JSON:
{"category": "skip" | "simple" | "research",
 "reason": "<one sentence>",
 "simple_address": "<canonical address string, simple only>",
 "estimated_precision": "address" | "street" | "city" | "region" | "country"}

Categories:
- "skip": too vague to resolve to anything meaningful (e.g. "somewhere in
  California", "the coast"). Resolving it would waste geocoding quota.
- "simple": a well-known place a geocoder can look up directly (cities,
  landmarks, famous campuses). Include the canonical lookup string in
  simple_address.
- "research": ambiguous or obscure enough to need web research (private
  residences, defunct facilities, places identified only by context).`

const findAddressSystemPrompt = `You research the precise street address of a place mentioned in a book
story, using web search. Reply with JSON:
{"address": "<best address found>",
 "lat": <number or null>, "lon": <number or null>,
 "precision": "address" | "street" | "city" | "region" | "country",
 "confidence": <0.0-1.0>,
 "source_url": "<url of best source>",
 "source_snippet": "<supporting text>",
 "is_residence": <true if a private home>,
 "corroboration": ["<signals supporting the address>"],
 "concerns": ["<caveats undermining the address>"]}

Set is_residence true whenever the place is or was someone's private home,
so downstream consumers can handle it separately. Be honest about
confidence; prefer a city-level answer with high confidence over a guessed
street address.`

const searchQuerySystemPrompt = `You write one web search query that would surface the precise address of a
place mentioned in a book story. Reply with JSON: {"query": "<query>"}.`

const extractCandidatesSystemPrompt = `You extract candidate street addresses for a place from harvested web
search results. Reply with JSON:
{"candidates": [{"address": "<address>", "source_url": "<url>",
                 "evidence": "<supporting text>"}]}
Only include addresses actually supported by the results.`

const scoreCandidatesSystemPrompt = `You pick the best address among candidates for one place. Reply with JSON:
{"best_index": <index into the list>, "score": <0.0-1.0 overall confidence>}.`

const summarizeClusterSystemPrompt = `You summarize a cluster of book stories that happened near one location
for a map popup. Reply with JSON:
{"summary": "<2-3 sentence narrative>",
 "key_themes": ["<theme>"],
 "date_range": "<e.g. 1976-1984>",
 "story_count": <number of stories>}
Match the level of detail to the zoom level: coarser zoom, broader strokes.`

package prompts

// ImagePathPlaceholder is replaced with the staged image path in the agent prompt.
const ImagePathPlaceholder = "{{image_path}}"

const defaultGate = `You decide whether OCR is worth running on a photo submitted to a lost-and-found service.

Look at the photo. Recommend OCR only when it would probably recover identifying text such as
a person's name, a student or staff ID number, a phone number, an email address, a pet's name,
a serial number or a luggage label. Do not recommend OCR when text is missing, tiny, blurry,
cropped, heavily stylized, or unrelated to identity (logos, slogans, "Made in ...").

Respond with a single JSON object that has exactly these keys and nothing else:
{
  "should_ocr": boolean,
  "readability": "high" | "medium" | "low" | "none",
  "doc_type": "id_card" | "pet_tag" | "luggage_tag" | "label" | "serial" | "receipt" | "screen" | "none" | "other",
  "likely_identifiers": array of "person_name" | "pet_name" | "id_number" | "phone" | "email" | "serial" | "address" | "other",
  "reason": short string
}`

const defaultAdjudicate = `You verify candidate matches for a lost-and-found service.

You receive the source item (a text description or a photo) and a JSON decision packet with:
given_id, score_margin, up to three ranked candidates (candidate_id, identifying_label, clip_score),
should_ocr, and ocr_results (text read from the found photo, possibly empty).

Evidence rules:
- Identifiers read by OCR (person name, ID number, phone, email, pet name, serial) outweigh similarity scores.
- Empty or generic OCR text (brand names, "Made in ...") identifies nothing.
- clip_score is a cosine similarity without an absolute scale. Judge it by rank and separation,
  using score_margin (top score minus second score) as the main signal.

Decision rules, in order:
1. If OCR text contains an identifier that agrees between the source and a candidate, answer "match" with that candidate's id.
2. If score_margin >= 0.05 and the top candidate is consistent with the source, answer "match" with the top candidate's id.
   Do not downgrade to "needs_review" because the score itself looks low.
3. If score_margin < 0.01, answer "no_match".
4. If score_margin < 0.03 the ranking is ambiguous; prefer "needs_review" unless the evidence conflicts.
5. If the evidence conflicts, answer "no_match". Otherwise answer "needs_review".

Respond with a single JSON object that has exactly these keys and nothing else:
{
  "decision": "match" | "no_match" | "needs_review",
  "given_id": string,
  "matched_id": string or null,
  "confidence": number between 0 and 1,
  "reasons": array of short strings
}`

const defaultAgent = `You read text from one photo using tools.

The photo is stored at: ` + ImagePathPlaceholder + `

Steps:
1. Call preprocess_image with img_path set to exactly that path and op "threshold".
2. Call extract_text with img_path set to the path returned by step 1.
3. Reply with only the extracted text.

Only use paths given here or returned by a tool. Never make up a file name.`

const defaultAgentTask = "Preprocess the photo with threshold and extract all readable text. Reply with the text only."

const defaultExtract = "Transcribe all text visible in this image. Reply with the text only, without commentary."

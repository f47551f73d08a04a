package dom

// Scripts are function expressions evaluated with Rod's Eval. Each takes
// JSON arguments and returns a JSON-able value. Every target or field is
// wrapped in its own try/catch so one bad selector never aborts the rest.

const resolveFn = `
function resolve(t) {
	if (t.mode === "xpath") {
		const snap = document.evaluate(t.expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n && n.nodeType === 1) out.push(n);
		}
		return out;
	}
	return Array.from(document.querySelectorAll(t.expr));
}
`

// removeScript hides then detaches every match. Returns the number removed.
const removeScript = `(targets) => {` + resolveFn + `
	let removed = 0;
	for (const t of targets) {
		try {
			for (const el of resolve(t)) {
				try {
					el.style.setProperty("display", "none", "important");
					el.style.setProperty("visibility", "hidden", "important");
					el.remove();
					removed++;
				} catch (e) {}
			}
		} catch (e) {}
	}
	return removed;
}`

// styleScript forces !important inline styles. Returns the number of elements patched.
const styleScript = `(patches) => {` + resolveFn + `
	let patched = 0;
	for (const p of patches) {
		try {
			for (const el of resolve(p)) {
				for (const [k, v] of Object.entries(p.styles || {})) {
					try { el.style.setProperty(k, String(v), "important"); } catch (e) {}
				}
				patched++;
			}
		} catch (e) {}
	}
	return patched;
}`

// textScript replaces textContent. Returns the number of elements patched.
const textScript = `(patches) => {` + resolveFn + `
	let patched = 0;
	for (const p of patches) {
		try {
			for (const el of resolve(p)) {
				el.textContent = p.text;
				patched++;
			}
		} catch (e) {}
	}
	return patched;
}`

// extractScript runs one pass. Returns {key: [values]}; a field that throws
// is left out. Lists are deduplicated and capped in page.
const extractScript = `(fields) => {` + resolveFn + `
	const collapse = (s) => String(s || "").replace(/\s+/g, " ").trim();
	const rendered = (s) => String(s || "").split("\n").map(collapse).filter(Boolean).join("\n");
	const read = (el, f) => {
		if (f.attr) {
			let v = (el.getAttribute(f.attr) || "").trim();
			if (v && (f.attr === "href" || f.attr === "src")) {
				try { v = new URL(v, document.baseURI).href; } catch (e) {}
			}
			return v;
		}
		switch (f.read) {
		case "rendered": return rendered(el.innerText);
		case "markup": return String((f.outer ? el.outerHTML : el.innerHTML) || "").trim();
		default: return collapse(el.textContent);
		}
	};
	const out = {};
	for (const f of fields) {
		try {
			const vals = [];
			const seen = new Set();
			for (const el of resolve(f)) {
				if (vals.length >= f.limit) break;
				const v = read(el, f);
				if (v === "") {
					if (f.preserveEmpty) vals.push(v);
					continue;
				}
				if (seen.has(v)) continue;
				seen.add(v);
				vals.push(v);
			}
			out[f.key] = vals;
		} catch (e) {}
	}
	return out;
}`

// scrollScript scrolls the window by dy. Returns true when the bottom was reached.
const scrollScript = `(dy) => {
	window.scrollBy(0, dy);
	const el = document.scrollingElement || document.documentElement;
	return Math.ceil(window.scrollY + window.innerHeight) >= el.scrollHeight;
}`

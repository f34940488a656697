package browser

// Page-side snippets. Each is an async function of (sel, arg) where sel is the
// product's Selectors and arg is call specific.

const helpers = `
	const first = (list) => {
		for (const s of list || []) {
			const el = document.querySelector(s);
			if (el) return el;
		}
		return null;
	};
	const all = (list) => (list && list.length)
		? Array.from(document.querySelectorAll(list.join(', ')))
		: [];
	const delay = (ms) => new Promise((r) => setTimeout(r, ms));
	const escape = () => document.dispatchEvent(new KeyboardEvent('keydown', {
		key: 'Escape', code: 'Escape', bubbles: true,
	}));
	const optionID = (opt) => opt.getAttribute('data-testid')
		|| opt.getAttribute('data-value')
		|| opt.innerText.trim();
`

func script(body string) string {
	return "async (sel, arg) => {" + helpers + body + "\n}"
}

var (
	jsReady = script(`
	return first(sel.input) !== null;`)

	jsCount = script(`
	return all(sel.responses).length;`)

	jsStreaming = script(`
	const stop = first(sel.stopButton);
	if (stop && stop.offsetParent !== null) return true;
	return first(sel.streaming) !== null;`)

	jsLatest = script(`
	const found = all(sel.responses);
	if (found.length === 0) return JSON.stringify({ ok: false, text: '' });
	const last = found[found.length - 1];
	if (sel.responseParts && sel.responseParts.length) {
		const text = Array.from(last.querySelectorAll(sel.responseParts.join(', ')))
			.map((b) => b.innerText.trim())
			.filter(Boolean)
			.join('\n\n');
		if (text) return JSON.stringify({ ok: true, text });
	}
	if (sel.responseFallback && sel.responseFallback.length) {
		const alt = last.querySelector(sel.responseFallback.join(', '));
		if (alt && alt.innerText.trim()) return JSON.stringify({ ok: true, text: alt.innerText.trim() });
	}
	return JSON.stringify({ ok: true, text: last.innerText.trim() });`)

	// jsInsert replaces the input's content with arg and names the method that
	// took effect.
	jsInsert = script(`
	const input = first(sel.input);
	if (!input) throw new Error('input not found');
	input.focus();
	await delay(100);

	if (input.tagName === 'TEXTAREA' || input.tagName === 'INPUT') {
		const proto = input.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value')?.set;
		if (setter) setter.call(input, arg); else input.value = arg;
		input.dispatchEvent(new Event('input', { bubbles: true }));
		input.dispatchEvent(new Event('change', { bubbles: true }));
		await delay(500);
		return 'value';
	}

	const changed = (inputType) => input.dispatchEvent(new InputEvent('input', {
		bubbles: true, cancelable: true, inputType, data: arg,
	}));

	document.execCommand('selectAll', false, null);
	document.execCommand('delete', false, null);
	await delay(50);

	document.execCommand('insertText', false, arg);
	await delay(150);
	if (input.textContent.trim()) {
		changed('insertText');
		await delay(500);
		return 'insertText';
	}

	try {
		const dt = new DataTransfer();
		dt.setData('text/plain', arg);
		input.dispatchEvent(new ClipboardEvent('paste', {
			bubbles: true, cancelable: true, clipboardData: dt,
		}));
		await delay(150);
		if (input.textContent.trim()) {
			changed('insertFromPaste');
			await delay(500);
			return 'paste';
		}
	} catch (e) {}

	input.textContent = arg;
	changed('insertText');
	await delay(500);
	return 'textContent';`)

	jsSubmit = script(`
	const input = first(sel.input);
	const button = first(sel.sendButton);
	let how = 'button';
	if (button && !button.disabled) {
		button.click();
	} else {
		if (!input) throw new Error('input not found');
		for (const type of ['keydown', 'keyup']) {
			input.dispatchEvent(new KeyboardEvent(type, {
				key: 'Enter', code: 'Enter', keyCode: 13, bubbles: true,
			}));
		}
		how = 'enter';
	}
	await delay(500);
	return how;`)

	// jsObserve (re)starts the mutation clock read by jsQuietFor.
	jsObserve = script(`
	if (!window.__clashQuiet) {
		window.__clashQuiet = { last: Date.now() };
		new MutationObserver(() => { window.__clashQuiet.last = Date.now(); })
			.observe(document.body || document.documentElement, {
				childList: true, subtree: true, characterData: true,
			});
	}
	window.__clashQuiet.last = Date.now();
	return true;`)

	jsQuietFor = script(`
	return window.__clashQuiet ? Date.now() - window.__clashQuiet.last : 0;`)

	jsModels = script(`
	const button = first(sel.modelButton);
	if (!button) return JSON.stringify([]);
	const label = button.getAttribute('aria-label') || '';
	const m = sel.currentModel ? label.match(new RegExp(sel.currentModel, 'i')) : null;
	const current = m ? m[1].trim() : button.innerText.trim();

	button.click();
	await delay(600);
	const models = [];
	const seen = new Set();
	for (const opt of all(sel.modelOption)) {
		const name = opt.innerText.trim();
		if (!name || seen.has(name)) continue;
		seen.add(name);
		models.push({
			id: optionID(opt),
			name,
			selected: opt.getAttribute('aria-checked') === 'true' || name === current,
		});
	}
	button.click();
	await delay(300);
	escape();
	await delay(200);
	return JSON.stringify(models);`)

	// jsSelectModel answers 'unsupported', 'current', 'selected' or 'missing'.
	jsSelectModel = script(`
	const button = first(sel.modelButton);
	if (!button) return 'unsupported';
	const label = button.getAttribute('aria-label') || '';
	if (label.includes(arg) || button.innerText.trim() === arg) return 'current';

	button.click();
	await delay(600);
	for (const opt of all(sel.modelOption)) {
		if (optionID(opt) === arg || opt.innerText.trim() === arg) {
			opt.click();
			await delay(500);
			return 'selected';
		}
	}
	escape();
	return 'missing';`)
)
